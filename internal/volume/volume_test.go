package volume_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trackerd/internal/ontology"
	"trackerd/internal/rdfstore"
	"trackerd/internal/volume"
)

func openStore(t *testing.T) *rdfstore.Store {
	t.Helper()

	reg, err := ontology.LoadDefault()
	require.NoError(t, err)

	store, err := rdfstore.Open(context.Background(), ":memory:", reg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestEnsureNonRemovable_IsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	m := volume.New(store)

	require.NoError(t, m.EnsureNonRemovable(ctx))
	require.NoError(t, m.EnsureNonRemovable(ctx))

	var mounted string
	row := store.DB().QueryRowContext(ctx,
		`SELECT v."isMounted" FROM "tracker:Volume" v JOIN "Resource" r ON r.id = v.id WHERE r.uri = ?`,
		volume.NonRemovableURN)
	require.NoError(t, row.Scan(&mounted))
	require.Equal(t, "1", mounted)
}

// Scenario 5 (spec §8): unmounting a volume clears availability on its
// resources without deleting them.
func TestMountRemove_ClearsAvailabilityOnResources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	m := volume.New(store)

	info := volume.Info{UUID: "11111111-1111-1111-1111-111111111111", MountPoint: "/media/usb", Removable: true}
	require.NoError(t, m.MountAdd(ctx, info))

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))
	interp := rdfstore.NewInterpreter(buf, nil)
	require.NoError(t, interp.Insert("file:///media/usb/doc.txt", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///media/usb/doc.txt", "nie:dataSource", volume.URI(info.UUID)))
	require.NoError(t, buf.Commit())

	require.NoError(t, m.MountRemove(ctx, info.UUID))

	var available int64
	row := store.DB().QueryRowContext(ctx, `SELECT available FROM "Resource" WHERE uri = ?`, "file:///media/usb/doc.txt")
	require.NoError(t, row.Scan(&available))
	require.Equal(t, int64(0), available)
}

// Scenario 6 (spec §8): GC deletes resources of volumes unmounted past the
// threshold, and is a no-op for a zero threshold.
func TestGC_DeletesResourcesOfStaleVolumes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	m := volume.New(store)

	info := volume.Info{UUID: "22222222-2222-2222-2222-222222222222", MountPoint: "/media/old", Removable: true}
	require.NoError(t, m.MountAdd(ctx, info))

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))
	interp := rdfstore.NewInterpreter(buf, nil)
	require.NoError(t, interp.Insert("file:///media/old/a.txt", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///media/old/a.txt", "nie:dataSource", volume.URI(info.UUID)))
	require.NoError(t, buf.Commit())

	require.NoError(t, m.MountRemove(ctx, info.UUID))

	// Backdate the unmount timestamp past the threshold.
	cutoff := time.Now().Add(-10 * 24 * time.Hour).UTC().Format(time.RFC3339)
	_, err := store.DB().ExecContext(ctx,
		`UPDATE "tracker:Volume" SET "unmountDate" = ? WHERE id = (SELECT id FROM "Resource" WHERE uri = ?)`,
		cutoff, volume.URI(info.UUID))
	require.NoError(t, err)

	deleted, err := m.GC(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	deleted, err = m.GC(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	var count int
	row := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM "Resource" WHERE uri = ?`, "file:///media/old/a.txt")
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 0, count)
}

func TestReconcile_AddsObservedAndRemovesMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openStore(t)
	m := volume.New(store)

	require.NoError(t, m.EnsureNonRemovable(ctx))

	existing := volume.Info{UUID: "33333333-3333-3333-3333-333333333333", MountPoint: "/media/stays", Removable: true}
	require.NoError(t, m.MountAdd(ctx, existing))

	vanished := volume.Info{UUID: "44444444-4444-4444-4444-444444444444", MountPoint: "/media/gone", Removable: true}
	require.NoError(t, m.MountAdd(ctx, vanished))

	newlyObserved := volume.Info{UUID: "55555555-5555-5555-5555-555555555555", MountPoint: "/media/new", Removable: true}

	require.NoError(t, m.Reconcile(ctx, []volume.Info{existing, newlyObserved}))

	assertMounted := func(uuid string, want bool) {
		t.Helper()

		var mounted string
		row := store.DB().QueryRowContext(ctx,
			`SELECT v."isMounted" FROM "tracker:Volume" v JOIN "Resource" r ON r.id = v.id WHERE r.uri = ?`,
			volume.URI(uuid))
		require.NoError(t, row.Scan(&mounted))

		if want {
			require.Equal(t, "1", mounted)
		} else {
			require.Equal(t, "0", mounted)
		}
	}

	assertMounted(existing.UUID, true)
	assertMounted(newlyObserved.UUID, true)
	assertMounted(vanished.UUID, false)
}

// Package volume implements the mount/unmount lifecycle of spec.md §4.7:
// reconciling OS-reported mounts against the store's believed state,
// marking volumes mounted/unmounted, clearing availability on their
// resources, and garbage-collecting stale unmounted volumes.
//
// Grounded on: the teacher's store.Open reconciliation-on-open pattern
// (internal/store/store.go: compare persisted state against observed
// state, repair the delta) generalized from "WAL vs. SQLite row count" to
// "OS mount table vs. Volume class rows".
package volume

import (
	"context"
	"fmt"
	"time"

	"trackerd/internal/ontology"
	"trackerd/internal/rdfstore"
)

// NonRemovableURN is the well-known, always-mounted volume every
// non-removable local file belongs to by default (spec.md §4.7).
const NonRemovableURN = "urn:nepomuk:datasource:0ca22f6f-0e9b-4a93-b8b6-000000000000"

// URI derives a volume's resource URI from its stable OS-reported UUID.
func URI(uuid string) string {
	return "urn:nepomuk:datasource:" + uuid
}

// Info describes one OS-observed mount.
type Info struct {
	UUID       string
	MountPoint string
	Removable  bool
	Optical    bool
}

// Manager owns the mount/unmount reconciliation and GC operations.
type Manager struct {
	store *rdfstore.Store
}

// New returns a Manager bound to store.
func New(store *rdfstore.Store) *Manager {
	return &Manager{store: store}
}

// EnsureNonRemovable asserts the well-known non-removable volume exists and
// is mounted, idempotently. Call once at startup before Reconcile (spec.md
// §4.7: "the well-known non-removable volume URN is always treated as
// mounted").
func (m *Manager) EnsureNonRemovable(ctx context.Context) error {
	buf := rdfstore.NewBuffer(m.store, nil)
	if err := buf.Begin(ctx); err != nil {
		return err
	}

	interp := rdfstore.NewInterpreter(buf, nil)

	if err := interp.Insert(NonRemovableURN, "rdf:type", "tracker:Volume"); err != nil {
		_ = buf.Rollback()
		return err
	}

	if err := interp.Insert(NonRemovableURN, "tracker:isMounted", "true"); err != nil {
		_ = buf.Rollback()
		return err
	}

	if err := interp.Insert(NonRemovableURN, "tracker:isRemovable", "false"); err != nil {
		_ = buf.Rollback()
		return err
	}

	return buf.Commit()
}

// Reconcile compares observed (the OS-reported mount table) against the
// store's believed state and repairs every mismatch (spec.md §4.7): an
// observed mount missing from the store is added; a store-believed mount
// absent from observed is marked unmounted.
func (m *Manager) Reconcile(ctx context.Context, observed []Info) error {
	believed, err := m.mountedVolumes(ctx)
	if err != nil {
		return err
	}

	observedUUIDs := make(map[string]Info, len(observed))
	for _, info := range observed {
		observedUUIDs[info.UUID] = info
	}

	for uuid, info := range observedUUIDs {
		if !believed[uuid] {
			if err := m.MountAdd(ctx, info); err != nil {
				return err
			}
		}
	}

	nonRemovable := uuidFromURI(NonRemovableURN)

	for uuid := range believed {
		if uuid == nonRemovable {
			continue // the non-removable volume is always treated as mounted
		}

		if _, ok := observedUUIDs[uuid]; !ok {
			if err := m.MountRemove(ctx, uuid); err != nil {
				return err
			}
		}
	}

	return nil
}

// mountedVolumes returns the UUIDs the store currently believes are
// mounted (tracker:isMounted = true).
func (m *Manager) mountedVolumes(ctx context.Context) (map[string]bool, error) {
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT r.uri FROM "tracker:Volume" v JOIN "Resource" r ON r.id = v.id WHERE v."isMounted" = 1`)
	if err != nil {
		return nil, fmt.Errorf("volume: query mounted: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("volume: scan mounted: %w", err)
		}

		out[uuidFromURI(uri)] = true
	}

	return out, rows.Err()
}

func uuidFromURI(uri string) string {
	const prefix = "urn:nepomuk:datasource:"
	if len(uri) > len(prefix) {
		return uri[len(prefix):]
	}

	return uri
}

func boolLiteral(b bool) string {
	if b {
		return "true"
	}

	return "false"
}

// MountAdd asserts a volume as mounted, creating its folder resource and
// volume resource if missing, transactionally (spec.md §4.7).
func (m *Manager) MountAdd(ctx context.Context, info Info) error {
	buf := rdfstore.NewBuffer(m.store, nil)
	if err := buf.Begin(ctx); err != nil {
		return err
	}

	interp := rdfstore.NewInterpreter(buf, nil)
	volURI := URI(info.UUID)
	folderURI := "file://" + info.MountPoint

	steps := []func() error{
		func() error { return interp.Insert(folderURI, "rdf:type", "nfo:Folder") },
		func() error { return interp.Insert(volURI, "rdf:type", "tracker:Volume") },
		func() error { return interp.Insert(volURI, "tracker:isMounted", "true") },
		func() error { return interp.Insert(volURI, "tracker:mountPoint", folderURI) },
		func() error { return interp.Insert(volURI, "tracker:isRemovable", boolLiteral(info.Removable)) },
		func() error { return interp.Insert(volURI, "tracker:isOptical", boolLiteral(info.Optical)) },
	}

	for _, step := range steps {
		if err := step(); err != nil {
			_ = buf.Rollback()
			return fmt.Errorf("volume: mount add %s: %w", volURI, err)
		}
	}

	return buf.Commit()
}

// MountRemove marks a volume unmounted, stamps unmountDate, and clears
// available on every resource whose dataSource is that volume (spec.md
// §4.7, scenario 5). Callers must cancel in-flight scheduler work under the
// mount root before calling this (spec.md §4.7: "cancel in-flight work
// under the mount root first").
func (m *Manager) MountRemove(ctx context.Context, uuid string) error {
	volURI := URI(uuid)

	buf := rdfstore.NewBuffer(m.store, nil)
	if err := buf.Begin(ctx); err != nil {
		return err
	}

	interp := rdfstore.NewInterpreter(buf, nil)

	if err := interp.Insert(volURI, "tracker:isMounted", "false"); err != nil {
		_ = buf.Rollback()
		return fmt.Errorf("volume: mount remove %s: %w", volURI, err)
	}

	if err := interp.Insert(volURI, "tracker:unmountDate", time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = buf.Rollback()
		return fmt.Errorf("volume: mount remove %s: %w", volURI, err)
	}

	if err := buf.Commit(); err != nil {
		return err
	}

	return m.clearAvailability(ctx, volURI)
}

// clearAvailability sets tracker:available false on every resource whose
// nie:dataSource is volURI.
func (m *Manager) clearAvailability(ctx context.Context, volURI string) error {
	uris, err := m.resourcesWithDataSource(ctx, volURI)
	if err != nil {
		return err
	}

	if len(uris) == 0 {
		return nil
	}

	buf := rdfstore.NewBuffer(m.store, nil)
	if err := buf.Begin(ctx); err != nil {
		return err
	}

	for _, uri := range uris {
		if err := buf.SetSubject(uri); err != nil {
			_ = buf.Rollback()
			return err
		}

		if err := buf.SetValue("tracker:available", "false"); err != nil {
			_ = buf.Rollback()
			return err
		}
	}

	return buf.Commit()
}

// resourcesWithDataSource returns the URIs of every resource whose
// nie:DataObject.dataSource column points at volURI's id.
func (m *Manager) resourcesWithDataSource(ctx context.Context, volURI string) ([]string, error) {
	rows, err := m.store.DB().QueryContext(ctx, `
		SELECT r.uri FROM "nie:DataObject" d
		JOIN "Resource" r ON r.id = d.id
		WHERE d."dataSource" = (SELECT id FROM "Resource" WHERE uri = ?)`, volURI)
	if err != nil {
		return nil, fmt.Errorf("volume: query datasource resources: %w", err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("volume: scan datasource resources: %w", err)
		}

		out = append(out, uri)
	}

	return out, rows.Err()
}

// GC deletes every resource linked to a volume whose unmountDate is older
// than thresholdDays (spec.md §4.7, §8 scenario 6). thresholdDays == 0
// disables GC per spec.md §6's `removable-days-threshold` key.
func (m *Manager) GC(ctx context.Context, thresholdDays int) (int, error) {
	if thresholdDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-time.Duration(thresholdDays) * 24 * time.Hour).UTC().Format(time.RFC3339)

	rows, err := m.store.DB().QueryContext(ctx, `
		SELECT r.uri FROM "tracker:Volume" v
		JOIN "Resource" r ON r.id = v.id
		WHERE v."unmountDate" IS NOT NULL AND v."unmountDate" < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("volume: gc query: %w", err)
	}

	var staleVolumes []string

	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			rows.Close()
			return 0, fmt.Errorf("volume: gc scan: %w", err)
		}

		staleVolumes = append(staleVolumes, uri)
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}

	rows.Close()

	deleted := 0

	for _, volURI := range staleVolumes {
		uris, err := m.resourcesWithDataSource(ctx, volURI)
		if err != nil {
			return deleted, err
		}

		for _, uri := range uris {
			if err := m.deleteResource(ctx, uri); err != nil {
				return deleted, err
			}

			deleted++
		}
	}

	return deleted, nil
}

// deleteResource removes a resource entirely: deleting its membership in
// the root class cascades through every sub-class it belongs to first
// (internal/rdfstore's Interpreter.Delete), then drops the Resource and
// fts rows.
func (m *Manager) deleteResource(ctx context.Context, uri string) error {
	buf := rdfstore.NewBuffer(m.store, nil)
	if err := buf.Begin(ctx); err != nil {
		return err
	}

	interp := rdfstore.NewInterpreter(buf, nil)

	if err := interp.Delete(uri, "rdf:type", ontology.RootClassURI); err != nil {
		_ = buf.Rollback()
		return fmt.Errorf("volume: gc delete %s: %w", uri, err)
	}

	return buf.Commit()
}

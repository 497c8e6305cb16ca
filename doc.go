// fepstate - checkpoint/resume and backup storage for perturbation pipelines
//
// fepstate persists the in-memory state of long-running free energy
// perturbation pipelines to disk, reloads it across process restarts, and
// keeps timestamped backups of user data. It is organized as three small,
// independent components:
//
//   - state: a schema-agnostic checkpoint record with identity validation
//     and atomic save (write-temp, sync, rename). Opaque pipeline objects
//     round-trip through a registry of named types.
//   - imagecache: memoizes externally rendered 2D molecule depictions
//     (single molecules and perturbation pairs aligned to a common core)
//     inside the checkpoint's ligand records.
//   - storage: a per-user directory where every written or copied file is
//     mirrored into a timestamped backup.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/smallnest/fepstate
//
// Basic example:
//
//	package main
//
//	import (
//		"github.com/smallnest/fepstate/state"
//	)
//
//	func main() {
//		// Load an existing checkpoint, or bootstrap a new one.
//		store, err := state.New("progress.json")
//		if err != nil {
//			panic(err)
//		}
//
//		// The record is an open-ended mapping; the pipeline lays out
//		// whatever structure it needs.
//		store.Set("superimpose_data", map[string]any{
//			"reference_pose_path": "ref.pdb",
//		})
//
//		// Persist atomically; readers never see a partial checkpoint.
//		if err := store.Save(""); err != nil {
//			panic(err)
//		}
//	}
//
// The cmd/fepstate CLI inspects checkpoint files and lists or cleans the
// timestamped backups kept by the storage directory.
package fepstate

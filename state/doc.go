// Package state implements the checkpoint store used to persist and resume
// long-running perturbation pipelines.
//
// A Store is a schema-agnostic record: a mapping from string keys to
// arbitrarily nested values. The pipeline conventionally lays it out as
//
//	mcs_dict: {
//	    "smiles_a|smiles_b": mcs_smarts,
//	}
//	ligands_data: {
//	    molecule_name: {
//	        "molecule": <registered molecule handle>,
//	        "topology": [top_file_a, top_file_b],
//	        "images": {
//	            "2d_hs":   <svg bytes, explicit hydrogens>,
//	            "2d_nohs": <svg bytes, hydrogens suppressed>,
//	            "perturbations": {
//	                molecule_b_name: {
//	                    common_core_smarts: {"2d_hs": ..., "2d_nohs": ...},
//	                },
//	            },
//	        },
//	    },
//	}
//
// but nothing in this package depends on that shape; only the data_file
// identity field is interpreted here. Opaque pipeline objects (molecule
// handles, solver state) round-trip through a Registry of named types.
//
// Saves are atomic: the snapshot is written to a temporary file, synced, and
// renamed onto the checkpoint path, so a reader never observes a partial
// checkpoint. The file is assumed single-writer; no cross-process locking is
// performed.
package state

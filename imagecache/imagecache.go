package imagecache

import (
	"errors"
	"fmt"

	"github.com/smallnest/fepstate/log"
	"github.com/smallnest/fepstate/state"
)

// Keys of the nested image cache inside a ligand record.
const (
	keyLigands       = "ligands_data"
	keyMolecule      = "molecule"
	keyImages        = "images"
	keyPerturbations = "perturbations"
	keyWithHs        = "2d_hs"
	keyNoHs          = "2d_nohs"
)

// Depiction dimensions, in pixels.
const (
	singleWidth  = 300
	singleHeight = 300
	pairWidth    = 300
	pairHeight   = 150
)

// ErrChiralityLoss is returned by Renderer.RemoveHydrogens when suppressing
// explicit hydrogens would alter stereochemistry. The cache reacts by
// reusing the explicit-hydrogen depiction for both slots.
var ErrChiralityLoss = errors.New("removing hydrogens would break chirality")

// ErrNotFound is returned when a molecule name is not present in the
// checkpoint's ligand records.
var ErrNotFound = errors.New("molecule not found in ligands data")

// Molecule is an opaque handle to an externally defined molecular structure.
// This package only needs its identity and atom count; everything else is
// passed through to the collaborators below.
type Molecule interface {
	Name() string
	NumAtoms() int
}

// Renderer produces 2D depictions of molecules.
type Renderer interface {
	// Render draws mol at the given size, highlighting the listed atom
	// indices (nil for no highlighting), and returns the artifact bytes.
	Render(mol Molecule, width, height int, highlight []int) ([]byte, error)

	// RemoveHydrogens returns a hydrogen-suppressed variant of mol. It
	// returns ErrChiralityLoss when suppression would invalidate
	// stereochemistry.
	RemoveHydrogens(mol Molecule) (Molecule, error)

	// AlignToTemplate adjusts mol's 2D coordinates to match template's
	// canonical layout. Failures are tolerated by callers.
	AlignToTemplate(mol, template Molecule) error

	// ParsePattern builds a matchable structure from a SMARTS descriptor.
	ParsePattern(smarts string) (Molecule, error)
}

// Matcher finds a substructure match of pattern in mol, returning the
// matched atom indices. ok is false when no match exists.
type Matcher interface {
	Match(mol, pattern Molecule) (atoms []int, ok bool)
}

// CoreFinder computes the common substructure descriptor for a ligand pair.
// Implementations operate on bare topologies; conformer data is ignored.
type CoreFinder interface {
	FindCommonCore(a, b Molecule, opts map[string]any) (string, error)
}

// Config wires the external collaborators into a Manager.
type Config struct {
	Renderer   Renderer
	Matcher    Matcher
	CoreFinder CoreFinder
	Logger     log.Logger
}

// Manager memoizes externally computed depiction artifacts inside the
// checkpoint's ligand records. Artifacts are recomputed only when one of
// the two with/without-hydrogens halves is missing or empty.
type Manager struct {
	store    *state.Store
	renderer Renderer
	matcher  Matcher
	cores    CoreFinder
	logger   log.Logger
}

// New creates a Manager over store with the given collaborators.
func New(store *state.Store, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Manager{
		store:    store,
		renderer: cfg.Renderer,
		matcher:  cfg.Matcher,
		cores:    cfg.CoreFinder,
		logger:   logger,
	}
}

// EnsureMoleculeImages makes sure both single-molecule depictions (explicit
// hydrogens and hydrogens suppressed) are cached for name. An unknown
// molecule is reported at warning level and yields false rather than an
// error. When both artifacts are already present the call is a no-op. With
// autoSave set, the checkpoint is persisted after the cache is updated.
func (m *Manager) EnsureMoleculeImages(name string, autoSave bool) bool {
	mol, ok := m.moleculeOf(name)
	if !ok {
		m.logger.Warn("molecule name %s not found in the ligands data; cannot draw it to a 2D svg", name)
		return false
	}

	images := m.store.EnsureMap(keyLigands, name, keyImages)
	if hasArtifactPair(images) {
		return true
	}

	withHs, err := m.renderer.Render(mol, singleWidth, singleHeight, nil)
	if err != nil {
		m.logger.Error("failed to render %s: %v", name, err)
		return false
	}

	noHs, err := m.renderSuppressed(name, mol, singleWidth, singleHeight, withHs)
	if err != nil {
		m.logger.Error("failed to render %s without hydrogens: %v", name, err)
		return false
	}

	images[keyWithHs] = withHs
	images[keyNoHs] = noHs

	if autoSave {
		if err := m.store.Save(""); err != nil {
			m.logger.Error("failed to save checkpoint after updating images for %s: %v", name, err)
		}
	}
	return true
}

// EnsurePerturbationImages makes sure both symmetric perturbation depictions
// for the pair (a, b) are cached under coreSMARTS. When coreSMARTS is empty
// the descriptor is computed by the CoreFinder over the pair's bare
// topologies, passing opts through. When both cache slots already hold
// non-empty artifact pairs the call returns without side effects. With
// autoSave set, the checkpoint is persisted once after both molecules were
// updated.
func (m *Manager) EnsurePerturbationImages(a, b, coreSMARTS string, autoSave bool, opts map[string]any) error {
	molA, okA := m.moleculeOf(a)
	molB, okB := m.moleculeOf(b)
	if !okA || !okB {
		missing := a
		if okA {
			missing = b
		}
		m.logger.Warn("molecule name %s not found in the ligands data; cannot draw the perturbation", missing)
		return fmt.Errorf("%s: %w", missing, ErrNotFound)
	}

	if coreSMARTS == "" {
		var err error
		coreSMARTS, err = m.cores.FindCommonCore(molA, molB, opts)
		if err != nil {
			return fmt.Errorf("find common core for %s and %s: %w", a, b, err)
		}
	}

	if m.perturbationCached(a, b, coreSMARTS) && m.perturbationCached(b, a, coreSMARTS) {
		return nil
	}
	m.logger.Debug("perturbation images for molecules %s and %s with common core %q were not found; generating them",
		a, b, coreSMARTS)

	pattern, err := m.renderer.ParsePattern(coreSMARTS)
	if err != nil {
		return fmt.Errorf("parse common core %q: %w", coreSMARTS, err)
	}

	pair := []struct {
		name    string
		mol     Molecule
		partner string
	}{
		{a, molA, b},
		{b, molB, a},
	}
	for _, p := range pair {
		if err := m.renderer.AlignToTemplate(p.mol, pattern); err != nil {
			m.logger.Debug("could not align %s to the common core layout, keeping best-effort coordinates: %v",
				p.name, err)
		}

		withHs, err := m.renderHighlighted(p.name, p.mol, pattern, pairWidth, pairHeight)
		if err != nil {
			return fmt.Errorf("render %s: %w", p.name, err)
		}

		noHs, err := m.renderSuppressedHighlighted(p.name, p.mol, pattern, withHs)
		if err != nil {
			return fmt.Errorf("render %s without hydrogens: %w", p.name, err)
		}

		slot := m.store.EnsureMap(keyLigands, p.name, keyImages, keyPerturbations, p.partner, coreSMARTS)
		slot[keyWithHs] = withHs
		slot[keyNoHs] = noHs
	}

	if autoSave {
		if err := m.store.Save(""); err != nil {
			return fmt.Errorf("save checkpoint after updating perturbation images: %w", err)
		}
	}
	return nil
}

// moleculeOf fetches the opaque molecule handle stored in a ligand record.
func (m *Manager) moleculeOf(name string) (Molecule, bool) {
	v, ok := m.store.Lookup(keyLigands, name, keyMolecule)
	if !ok {
		return nil, false
	}
	mol, ok := v.(Molecule)
	return mol, ok
}

// renderSuppressed draws mol without explicit hydrogens, falling back to the
// explicit-hydrogen artifact when suppression would break chirality. The
// fallback is a deliberate approximation carried over from the pipeline's
// behavior, not a bug.
func (m *Manager) renderSuppressed(name string, mol Molecule, width, height int, withHs []byte) ([]byte, error) {
	suppressed, err := m.renderer.RemoveHydrogens(mol)
	if errors.Is(err, ErrChiralityLoss) {
		m.logger.Debug("removing hydrogens of %s would break chirality; reusing the explicit-H depiction", name)
		return withHs, nil
	}
	if err != nil {
		return nil, err
	}
	return m.renderer.Render(suppressed, width, height, nil)
}

// renderSuppressedHighlighted is the perturbation variant of
// renderSuppressed: the suppressed depiction highlights non-core atoms.
func (m *Manager) renderSuppressedHighlighted(name string, mol, pattern Molecule, withHs []byte) ([]byte, error) {
	suppressed, err := m.renderer.RemoveHydrogens(mol)
	if errors.Is(err, ErrChiralityLoss) {
		m.logger.Debug("removing hydrogens of %s would break chirality; reusing the explicit-H depiction", name)
		return withHs, nil
	}
	if err != nil {
		return nil, err
	}
	return m.renderHighlighted(name, suppressed, pattern, pairWidth, pairHeight)
}

// renderHighlighted draws mol with the atoms outside the common core
// highlighted. A failed substructure match degrades to an unhighlighted
// depiction.
func (m *Manager) renderHighlighted(name string, mol, pattern Molecule, width, height int) ([]byte, error) {
	common, ok := m.matcher.Match(mol, pattern)
	if !ok {
		m.logger.Debug("no substructure match for %s against the common core; rendering without highlights", name)
		return m.renderer.Render(mol, width, height, nil)
	}
	return m.renderer.Render(mol, width, height, invertAtoms(common, mol.NumAtoms()))
}

// perturbationCached reports whether name's cache already holds a non-empty
// artifact pair for partner under core.
func (m *Manager) perturbationCached(name, partner, core string) bool {
	v, ok := m.store.Lookup(keyLigands, name, keyImages, keyPerturbations, partner, core)
	if !ok {
		return false
	}
	slot, ok := v.(map[string]any)
	return ok && hasArtifactPair(slot)
}

// hasArtifactPair reports whether both depiction slots exist and are
// non-empty. Both halves must be proven present before recomputation is
// skipped.
func hasArtifactPair(images map[string]any) bool {
	return nonEmptyArtifact(images[keyWithHs]) && nonEmptyArtifact(images[keyNoHs])
}

func nonEmptyArtifact(v any) bool {
	switch data := v.(type) {
	case []byte:
		return len(data) > 0
	case string:
		return len(data) > 0
	default:
		return false
	}
}

// invertAtoms returns the indices in [0, total) that are not in atoms.
func invertAtoms(atoms []int, total int) []int {
	member := make(map[int]bool, len(atoms))
	for _, i := range atoms {
		member[i] = true
	}
	out := make([]int, 0, total)
	for i := 0; i < total; i++ {
		if !member[i] {
			out = append(out, i)
		}
	}
	return out
}

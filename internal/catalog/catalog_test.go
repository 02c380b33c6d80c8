package catalog

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causeway/internal/ir"
	"github.com/roach88/causeway/internal/phase"
)

func TestCompileBasic(t *testing.T) {
	v := cuecontext.New().CompileString(`
		phase: chunk_populate: {
			kind:          "worldgen"
			cancel_policy: "batch"
			requires:      ["chunk"]
			description:   "decorate a chunk"
		}
	`)
	require.NoError(t, v.Err())

	spec, err := Compile(v.LookupPath(cue.ParsePath("phase.chunk_populate")))
	require.NoError(t, err)

	assert.Equal(t, "chunk_populate", spec.Name)
	assert.Equal(t, ir.KindWorldGen, spec.Kind)
	assert.Equal(t, ir.RollbackBatch, spec.CancelPolicy)
	assert.Equal(t, []string{"chunk"}, spec.Requires)
	assert.Equal(t, "decorate a chunk", spec.Description)
}

func TestCompileDefaultsToChainRollback(t *testing.T) {
	specs, err := CompileString(`phase: redstone_tick: kind: "tick"`)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, ir.RollbackChain, specs[0].CancelPolicy)
}

func TestCompileRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing kind", `phase: p: description: "x"`},
		{"unknown kind", `phase: p: kind: "render"`},
		{"idle kind", `phase: p: kind: "idle"`},
		{"unknown field", `phase: p: {kind: "tick", priority: 3}`},
		{"float in requires", `phase: p: {kind: "tick", requires: [1.5]}`},
		{"bad policy", `phase: p: {kind: "tick", cancel_policy: "none"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileString(tt.src)
			assert.Error(t, err)
		})
	}
}

func TestCompileErrorHasPosition(t *testing.T) {
	_, err := CompileString("phase: p: {\n\tkind: \"render\"\n}")

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Pos.IsValid())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		spec ir.PhaseSpec
		code string
	}{
		{"camel case name", ir.PhaseSpec{Name: "redstoneTick", Kind: ir.KindTick}, ErrPhaseName},
		{"unknown kind", ir.PhaseSpec{Name: "p", Kind: "render"}, ErrPhaseKind},
		{"idle", ir.PhaseSpec{Name: "p", Kind: ir.KindIdle}, ErrPhaseKind},
		{"bad policy", ir.PhaseSpec{Name: "p", Kind: ir.KindTick, CancelPolicy: "none"}, ErrCancelPolicy},
		{"buttons on tick", ir.PhaseSpec{Name: "p", Kind: ir.KindTick, Buttons: []string{"BUTTON_PRIMARY"}}, ErrButtons},
		{"unknown flag", ir.PhaseSpec{Name: "p", Kind: ir.KindPacket, Buttons: []string{"BUTTON_FOURTH"}}, ErrButtons},
		{"variant without buttons", ir.PhaseSpec{Name: "p", Kind: ir.KindPacket, Variant: "shift"}, ErrVariant},
		{"repeated key", ir.PhaseSpec{Name: "p", Kind: ir.KindPacket, Requires: []string{"player", "player"}}, ErrRequires},
		{"empty key", ir.PhaseSpec{Name: "p", Kind: ir.KindTick, Requires: []string{""}}, ErrRequires},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.spec)
			require.Len(t, errs, 1, "%v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
		})
	}
}

func TestValidateCatalog(t *testing.T) {
	errs := Validate([]ir.PhaseSpec{
		{Name: "block_tick", Kind: ir.KindTick},
		{Name: "redstone_tick", Kind: ir.KindTick},
		{Name: "redstone_tick", Kind: ir.KindTick},
	})

	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.Equal(t, []string{ErrReservedName, ErrDuplicateName}, codes)
}

func TestValidateUnsupported(t *testing.T) {
	errs := Validate(42)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedSpec, errs[0].Code)
}

func TestLoad(t *testing.T) {
	res, errs := Load("testdata/catalog", CollectAll)
	require.Empty(t, errs)

	assert.Equal(t, 2, res.FileCount)
	require.Len(t, res.Specs, 4)
	assert.NotEmpty(t, res.Hash)

	names := make(map[string]ir.PhaseSpec)
	for _, s := range res.Specs {
		names[s.Name] = s
	}
	assert.Equal(t, ir.RollbackBatch, names["chunk_populate"].CancelPolicy)
	assert.Equal(t, "shift", names["click_shift"].Variant)
	assert.Equal(t, []string{"plugin"}, names["command_block"].Requires)
}

func TestLoadCollectsErrors(t *testing.T) {
	_, errs := Load("testdata/broken", CollectAll)
	assert.Len(t, errs, 2)

	_, errs = Load("testdata/broken", FailFast)
	assert.Len(t, errs, 1)
}

func TestLoadMissingDir(t *testing.T) {
	_, errs := Load("testdata/nope", FailFast)
	require.Len(t, errs, 1)

	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoadEmptyDir(t *testing.T) {
	_, errs := Load(t.TempDir(), FailFast)
	require.Len(t, errs, 1)

	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestRegistry(t *testing.T) {
	res, errs := Load("testdata/catalog", FailFast)
	require.Empty(t, errs)

	r, err := FromSpecs(res.Specs)
	require.NoError(t, err)

	d, ok := r.Lookup("chunk_populate")
	require.True(t, ok)
	assert.Equal(t, ir.RollbackBatch, d.CancelPolicy())

	_, ok = r.Lookup("block_tick")
	assert.True(t, ok, "built-ins are always present")
	assert.Len(t, r.All(), len(phase.Builtins())+4)
	assert.Equal(t, "idle", r.All()[0].Name())

	assert.Error(t, r.Register(phase.BlockTick))

	h1, err := r.Hash()
	require.NoError(t, err)
	h2, err := NewRegistry().Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestRegistrySelectClick(t *testing.T) {
	r, err := FromSpecs([]ir.PhaseSpec{{
		Name:     "click_shift",
		Kind:     ir.KindPacket,
		Requires: []string{"player", "container"},
		Buttons:  []string{"BUTTON_PRIMARY", "MODE_SHIFT_CLICK", "CLICK_INSIDE_WINDOW"},
		Variant:  "shift",
	}})
	require.NoError(t, err)

	got, ok := r.SelectClick(phase.ButtonPrimary | phase.ModeShiftClick | phase.ClickInsideWindow)
	require.True(t, ok)
	assert.Equal(t, "click_shift", got.Name())

	got, ok = r.SelectClick(phase.ButtonMiddle | phase.ModePickBlock | phase.ClickInsideWindow)
	require.True(t, ok)
	assert.Equal(t, phase.MiddleClick, got, "built-in click states are tried first")

	assert.Len(t, r.ClickStates(), len(phase.ClickStates())+1)
}

func TestFromSpecsRejectsDuplicates(t *testing.T) {
	_, err := FromSpecs([]ir.PhaseSpec{{Name: "packet", Kind: ir.KindPacket}})
	assert.Error(t, err)
}

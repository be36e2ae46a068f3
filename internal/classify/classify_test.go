package classify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phobologic/cobolmap/internal/model"
)

func TestKindForExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ext  string
		want model.UnitKind
		ok   bool
	}{
		{".cbl", model.Program, true},
		{".CBL", model.Program, true},
		{".cob", model.Copybook, true},
		{".COB", model.Copybook, true},
		{".cpy", model.Copybook, true},
		{".Cpy", model.Copybook, true},
		{".py", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := KindForExtension(tt.ext)
		assert.Equal(t, tt.ok, ok, tt.ext)
		assert.Equal(t, tt.want, got, tt.ext)
	}
}

func TestSubsystemFirstMatchWins(t *testing.T) {
	t.Parallel()

	c := Default()
	assert.Equal(t, "sales", c.Subsystem("sales/sl010.cbl"))
	assert.Equal(t, "stock", c.Subsystem("src/stock/st020.cbl"))
	assert.Equal(t, "common", c.Subsystem("common/acas000.cbl"))
	assert.Equal(t, "common", c.Subsystem("copybooks/wsfnctn.cpy"))

	// irs/ is listed before sales/, so a path containing both is irs.
	assert.Equal(t, "irs", c.Subsystem("irs/sales/odd.cbl"))
}

func TestSubsystemCustomMarkers(t *testing.T) {
	t.Parallel()

	c := New([]Marker{{Tag: "payroll", Fragment: "pay/"}}, "shared")
	assert.Equal(t, "payroll", c.Subsystem("pay/py100.cbl"))
	assert.Equal(t, "shared", c.Subsystem("lib/util.cbl"))
	assert.Equal(t, []string{"payroll", "shared"}, c.Tags())
}

func TestSubsystemConcurrent(t *testing.T) {
	t.Parallel()

	c := Default()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "purchase", c.Subsystem("purchase/pl010.cbl"))
		}()
	}
	wg.Wait()
}

func TestTags(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"irs", "sales", "purchase", "stock", "general", "common"},
		Default().Tags())
}

func TestUnitName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sl060", UnitName("sales/sl060.cbl"))
	assert.Equal(t, "STKPARAMS", UnitName("copy/STKPARAMS.cpy"))
	assert.Equal(t, "noext", UnitName("noext"))
}

func TestEstateTags(t *testing.T) {
	t.Parallel()

	assert.True(t, IsMainProgram("common/ACAS.cbl"))
	assert.True(t, IsMainProgram("sales/Sales.CBL"))
	assert.False(t, IsMainProgram("sales/sl010.cbl"))

	assert.Equal(t, "MT", DataAccessRole("common/stockMT.cbl"))
	assert.Equal(t, "LD", DataAccessRole("common/salesLD.cbl"))
	assert.Equal(t, "UNL", DataAccessRole("common/salesUNL.cbl"))
	assert.Equal(t, "RES", DataAccessRole("common/salesRES.cbl"))
	assert.Equal(t, "", DataAccessRole("common/MT.cbl"))
	assert.Equal(t, "", DataAccessRole("copy/fdMT.cpy"))

	assert.Equal(t, "slXXX.cbl", NamePattern("sl010.cbl"))
	assert.Equal(t, "acas.cbl", NamePattern("acas.cbl"))
	assert.Equal(t, "stXXX-a1.cbl", NamePattern("st020-a1.cbl"))
}

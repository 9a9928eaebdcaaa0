package audit

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixinhost/internal/archive"
	"mixinhost/internal/mixin"
	"mixinhost/pkg/classfile"
	"mixinhost/pkg/mixinapi"
	"mixinhost/pkg/transform"
)

type mapAccess map[string][]byte

func (m mapAccess) Read(_ context.Context, name string) ([]byte, bool, error) {
	img, ok := m[name]
	return img, ok, nil
}

func (m mapAccess) Write(_ context.Context, name string, image []byte) error {
	m[name] = image
	return nil
}

var _ mixinapi.Access = mapAccess(nil)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	mem, err := Open(ctx, Config{})
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	lite, err := Open(ctx, Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	require.NoError(t, lite.Close())

	_, err = Open(ctx, Config{Driver: "tape"})
	require.ErrorContains(t, err, "unknown audit driver")
}

func TestLedgerRecordsEngineFlush(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{Driver: DriverMemory},
		{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "ledger.db")},
	} {
		t.Run(string(cfg.Driver), func(t *testing.T) {
			ledger, err := Open(ctx, cfg)
			require.NoError(t, err)
			defer func() { _ = ledger.Close() }()

			img, err := classfile.Encode(&classfile.Class{Name: "Foo", Methods: []classfile.Method{{Name: "run", Desc: "()V"}}})
			require.NoError(t, err)
			access := mapAccess{"Foo": img}
			app := archive.NewFS(fstest.MapFS{
				archive.ComplianceResource: {Data: []byte(archive.AccessProperty + "=App\n")},
				"Foo.class":                {Data: img},
				"Bar.class":                {Data: img},
			})

			e := mixin.New(nil, mixin.WithAuditRecorder(ledger), mixin.WithRunIDs(func() string { return "run-7" }))
			require.NoError(t, e.OnLoad(ctx, app))
			require.NoError(t, e.Activate(ctx, mixin.StaticAdapter(access)))
			inject := transform.MethodInjection{Method: "run", Instructions: []classfile.Instruction{{Op: "nop"}}}
			require.NoError(t, e.Register(ctx, "Foo", transform.MustDescriptor("Foo", "m.A", inject)))
			require.NoError(t, e.Register(ctx, "Bar", transform.MustDescriptor("Bar", "m.A", inject)))
			_, err = e.Flush(ctx)
			require.Error(t, err)

			entries, err := ledger.List(ctx, "run-7")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "Bar", entries[0].Target)
			assert.Equal(t, mixin.AuditStatusError, entries[0].Status)
			assert.Equal(t, "Foo", entries[1].Target)
			assert.Equal(t, mixin.AuditStatusSuccess, entries[1].Status)
			assert.Equal(t, []string{"m.A"}, entries[1].Sources)
		})
	}
}

package mixin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"mixinhost/internal/archive"
	"mixinhost/pkg/classfile"
	"mixinhost/pkg/mixinapi"
	"mixinhost/pkg/transform"
)

const testAdapter = "com.example.app.MixinAccess"

// memAccess is an in-memory adapter that counts every call.
type memAccess struct {
	mu       sync.Mutex
	images   map[string][]byte
	reads    map[string]int
	writes   map[string]int
	readErr  map[string]error
	writeErr map[string]error
}

func newMemAccess() *memAccess {
	return &memAccess{
		images:   make(map[string][]byte),
		reads:    make(map[string]int),
		writes:   make(map[string]int),
		readErr:  make(map[string]error),
		writeErr: make(map[string]error),
	}
}

func (m *memAccess) Read(_ context.Context, name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[name]++
	if err := m.readErr[name]; err != nil {
		return nil, false, err
	}
	img, ok := m.images[name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), img...), true, nil
}

func (m *memAccess) Write(_ context.Context, name string, image []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[name]++
	if err := m.writeErr[name]; err != nil {
		return err
	}
	m.images[name] = append([]byte(nil), image...)
	return nil
}

func (m *memAccess) calls() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.reads {
		reads += n
	}
	for _, n := range m.writes {
		writes += n
	}
	return reads, writes
}

func (m *memAccess) put(t *testing.T, c *classfile.Class) {
	t.Helper()
	img, err := classfile.Encode(c)
	if err != nil {
		t.Fatalf("encode %s: %v", c.Name, err)
	}
	m.mu.Lock()
	m.images[c.Name] = img
	m.mu.Unlock()
}

// body returns the ops of method "run" of the stored image joined together.
func (m *memAccess) body(t *testing.T, name string) string {
	t.Helper()
	m.mu.Lock()
	img := m.images[name]
	m.mu.Unlock()
	c, err := classfile.Decode(img)
	if err != nil {
		t.Fatalf("decode %s: %v", name, err)
	}
	run := c.Method("run")
	if run == nil {
		t.Fatalf("class %s lost method run", name)
	}
	var ops []string
	for _, insn := range run.Body {
		ops = append(ops, insn.Op)
	}
	return strings.Join(ops, "")
}

func runnable(name string) *classfile.Class {
	return &classfile.Class{
		Name:    name,
		Methods: []classfile.Method{{Name: "run", Desc: "()V"}},
	}
}

func compliantApp(classes ...string) fstest.MapFS {
	fsys := fstest.MapFS{
		archive.ComplianceResource: {Data: []byte(archive.AccessProperty + "=" + testAdapter + "\n")},
	}
	for _, c := range classes {
		fsys[classfile.ResourcePath(c)] = &fstest.MapFile{Data: []byte("placeholder")}
	}
	return fsys
}

// appendOp appends one instruction to the end of method run.
func appendOp(target, source, op string) transform.Descriptor {
	return transform.MustDescriptor(target, source, transform.MethodInjection{
		Method:       "run",
		At:           transform.Tail,
		Instructions: []classfile.Instruction{{Op: op}},
	})
}

// activeEngine returns an Active engine over an archive holding classes,
// with every class stored in the returned adapter.
func activeEngine(t *testing.T, classes []string, opts ...Option) (*Engine, *memAccess) {
	t.Helper()
	access := newMemAccess()
	for _, c := range classes {
		access.put(t, runnable(c))
	}
	e := New(nil, opts...)
	ctx := context.Background()
	if err := e.OnLoad(ctx, archive.NewFS(compliantApp(classes...))); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := e.Activate(ctx, StaticAdapter(access)); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return e, access
}

type auditStub struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (a *auditStub) Record(_ context.Context, entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return a.err
}

type metricsStub struct {
	mu   sync.Mutex
	seen map[string][]bool
}

func (m *metricsStub) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string][]bool)
	}
	m.seen[op] = append(m.seen[op], success)
}

type logStub struct {
	mu     sync.Mutex
	levels []string
	msgs   []string
}

func (l *logStub) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels = append(l.levels, level)
	l.msgs = append(l.msgs, msg)
}

func (l *logStub) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *logStub) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *logStub) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *logStub) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *logStub) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.msgs {
		if l.levels[i] == level && l.msgs[i] == msg {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")

var _ mixinapi.Access = (*memAccess)(nil)

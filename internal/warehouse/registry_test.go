package warehouse

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"residuals/internal/schema"
	"residuals/internal/staging"
)

// fakeWarehouse is a minimal Warehouse implementation for tests.
type fakeWarehouse struct {
	closed bool
}

func (f *fakeWarehouse) Kind() string { return "fake" }
func (f *fakeWarehouse) TableExists(context.Context, TableRef) (bool, error) {
	return false, nil
}
func (f *fakeWarehouse) CreateTable(context.Context, TableRef, schema.Schema) error { return nil }
func (f *fakeWarehouse) DescribeTable(context.Context, TableRef) (schema.Schema, error) {
	return nil, ErrTableNotFound
}
func (f *fakeWarehouse) BulkRead(context.Context, TableRef, staging.Store) (staging.Manifest, error) {
	return staging.Manifest{}, nil
}
func (f *fakeWarehouse) BulkWrite(context.Context, TableRef, staging.Store) (int64, error) {
	return 0, nil
}
func (f *fakeWarehouse) Close() error { f.closed = true; return nil }

// TestRegisterAndNew_Success verifies that registering a backend enables New()
// to return the corresponding warehouse.
func TestRegisterAndNew_Success(t *testing.T) {
	t.Parallel()

	kind := "fake"
	Register(kind, func(ctx context.Context, cfg Config) (Warehouse, error) {
		return &fakeWarehouse{}, nil
	})

	wh, err := New(context.Background(), Config{Kind: kind})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if wh == nil {
		t.Fatalf("New returned nil warehouse")
	}

	found := false
	for _, k := range ListKinds() {
		if k == kind {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("registered kind %q not present in ListKinds: %v", kind, ListKinds())
	}
}

// TestNew_Unsupported verifies that unsupported kinds return a helpful error.
func TestNew_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist"})
	if err == nil {
		t.Fatalf("expected error for unsupported kind")
	}
	if got, want := err.Error(), "unsupported warehouse.kind=does-not-exist"; got != want {
		t.Fatalf("error = %q, want %q", got, want)
	}
}

// TestRegister_Override verifies that re-registering a kind overrides the
// previous factory.
func TestRegister_Override(t *testing.T) {
	t.Parallel()

	kind := "override"
	calls := 0

	Register(kind, func(ctx context.Context, cfg Config) (Warehouse, error) {
		calls++
		return &fakeWarehouse{}, nil
	})
	Register(kind, func(ctx context.Context, cfg Config) (Warehouse, error) {
		calls += 10
		return &fakeWarehouse{}, nil
	})

	if _, err := New(context.Background(), Config{Kind: kind}); err != nil {
		t.Fatalf("New error: %v", err)
	}
	if calls != 10 {
		t.Fatalf("factory call count = %d, want 10", calls)
	}
}

// TestListKinds_Snapshot checks that ListKinds returns a copy.
func TestListKinds_Snapshot(t *testing.T) {
	t.Parallel()

	Register("snap", func(ctx context.Context, cfg Config) (Warehouse, error) { return &fakeWarehouse{}, nil })

	a := ListKinds()
	if len(a) == 0 {
		t.Fatalf("ListKinds empty after registration")
	}
	a[0] = "mutated"

	if b := ListKinds(); reflect.DeepEqual(a, b) {
		t.Fatalf("ListKinds returned same slice; want snapshot copy")
	}
}

func TestRegister_AllowsErrors(t *testing.T) {
	t.Parallel()

	kind := "errkind"
	want := errors.New("boom")
	Register(kind, func(ctx context.Context, cfg Config) (Warehouse, error) {
		return nil, want
	})

	if _, err := New(context.Background(), Config{Kind: kind}); !errors.Is(err, want) {
		t.Fatalf("want %v, got %v", want, err)
	}
}

func TestParseTableRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    TableRef
		wantErr bool
	}{
		{in: "natality_regression.regression_input", want: TableRef{Dataset: "natality_regression", Table: "regression_input"}},
		{in: "proj.ds.tbl", want: TableRef{Project: "proj", Dataset: "ds", Table: "tbl"}},
		{in: "tbl", wantErr: true},
		{in: "ds.bad-name", wantErr: true},
		{in: "a.b.c.d", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTableRef(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
			if got.String() != tc.in {
				t.Fatalf("String() = %q, want %q", got.String(), tc.in)
			}
		})
	}
}

func TestCheckRef(t *testing.T) {
	t.Parallel()

	ref := TableRef{Project: "p1", Dataset: "ds", Table: "t"}
	if err := CheckRef("p1", ref); err != nil {
		t.Fatalf("same project: %v", err)
	}
	if err := CheckRef("", ref); err != nil {
		t.Fatalf("unbound client: %v", err)
	}
	if err := CheckRef("p2", ref); !errors.Is(err, ErrProjectMismatch) {
		t.Fatalf("err = %v, want ErrProjectMismatch", err)
	}
	if got := ref.WithTable("other").String(); got != "p1.ds.other" {
		t.Fatalf("WithTable = %q", got)
	}
}

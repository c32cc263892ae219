package dso

import (
	"errors"
	"testing"

	"github.com/yndnr/memsnap-go/internal/core/domain"
)

type mapTable map[domain.Handle]string

func (m mapTable) Handles() map[domain.Handle]string { return m }

type recordingBinder struct {
	bound  map[domain.Handle]string
	failOn domain.Handle
}

func (b *recordingBinder) BindHandle(h domain.Handle, path string) error {
	if h == b.failOn {
		return errors.New("slot taken")
	}
	if b.bound == nil {
		b.bound = map[domain.Handle]string{}
	}
	b.bound[h] = path
	return nil
}

func TestCaptureOpenHandles(t *testing.T) {
	tests := []struct {
		name  string
		table mapTable
		want  domain.DsoMetadata
	}{
		{"empty", mapTable{}, domain.DsoMetadata{}},
		{"global only", mapTable{0: "<global>"}, domain.DsoMetadata{}},
		{
			name:  "grouped by path",
			table: mapTable{0: "<global>", 3: "/lib/a.so", 7: "/lib/a.so", 5: "/lib/b.so"},
			want:  domain.DsoMetadata{"/lib/a.so": {3, 7}, "/lib/b.so": {5}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CaptureOpenHandles(tt.table)
			if !got.Equal(tt.want) {
				t.Errorf("CaptureOpenHandles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelink(t *testing.T) {
	dso := domain.DsoMetadata{"/lib/a.so": {3, 7}, "/lib/b.so": {5}}

	b := &recordingBinder{}
	n, err := Relink(b, dso, "/lib/a.so")
	if err != nil {
		t.Fatalf("Relink() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Relink() bound %d, want 2", n)
	}
	if b.bound[3] != "/lib/a.so" || b.bound[7] != "/lib/a.so" {
		t.Errorf("bound = %v", b.bound)
	}

	n, err = Relink(b, dso, "/lib/missing.so")
	if err != nil || n != 0 {
		t.Errorf("Relink(missing) = (%d, %v), want (0, nil)", n, err)
	}

	n, err = Relink(b, nil, "/lib/a.so")
	if err != nil || n != 0 {
		t.Errorf("Relink(nil metadata) = (%d, %v), want (0, nil)", n, err)
	}
}

func TestRelink_BindFailure(t *testing.T) {
	b := &recordingBinder{failOn: 7}
	n, err := Relink(b, domain.DsoMetadata{"/lib/a.so": {3, 7}}, "/lib/a.so")
	if err == nil {
		t.Fatal("Relink() error = nil, want bind failure")
	}
	if n != 1 {
		t.Errorf("Relink() bound %d before failing, want 1", n)
	}
}

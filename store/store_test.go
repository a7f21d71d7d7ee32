package store

import (
	"errors"
	"io"
	"testing"

	"github.com/diagon-project/diagon"
)

func withDirectories(t *testing.T, fn func(t *testing.T, dir Directory)) {
	t.Helper()

	fs, err := OpenFSDirectory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mm, err := OpenMMapDirectory(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	dirs := []struct {
		name string
		dir  Directory
	}{
		{"mem", NewMemDirectory()},
		{"fs", fs},
		{"mmap", mm},
	}
	for _, d := range dirs {
		t.Run(d.name, func(t *testing.T) {
			defer d.dir.Close()
			fn(t, d.dir)
		})
	}
}

func TestOutputInputRoundTrip(t *testing.T) {
	withDirectories(t, func(t *testing.T, dir Directory) {
		out, err := dir.CreateOutput("seg_0.dat", IOContextDefault)
		if err != nil {
			t.Fatal(err)
		}
		if err := out.WriteByte(0x7F); err != nil {
			t.Fatal(err)
		}
		if err := out.WriteUint32(0x44434F4C); err != nil {
			t.Fatal(err)
		}
		if err := out.WriteUint64(1 << 40); err != nil {
			t.Fatal(err)
		}
		if err := out.WriteUvarint(300); err != nil {
			t.Fatal(err)
		}
		if err := out.WriteBytes([]byte("payload")); err != nil {
			t.Fatal(err)
		}
		wantFP := int64(1 + 4 + 8 + 2 + 7)
		if out.FilePointer() != wantFP {
			t.Fatalf("file pointer = %d, want %d", out.FilePointer(), wantFP)
		}
		if err := out.Close(); err != nil {
			t.Fatal(err)
		}

		length, err := dir.FileLength("seg_0.dat")
		if err != nil {
			t.Fatal(err)
		}
		if length != wantFP {
			t.Fatalf("file length = %d, want %d", length, wantFP)
		}

		in, err := dir.OpenInput("seg_0.dat", IOContextDefault)
		if err != nil {
			t.Fatal(err)
		}
		defer in.Close()

		if b, err := in.ReadByte(); err != nil || b != 0x7F {
			t.Fatalf("ReadByte = %x, %v", b, err)
		}
		if v, err := in.ReadUint32(); err != nil || v != 0x44434F4C {
			t.Fatalf("ReadUint32 = %x, %v", v, err)
		}
		if v, err := in.ReadUint64(); err != nil || v != 1<<40 {
			t.Fatalf("ReadUint64 = %x, %v", v, err)
		}
		if v, err := in.ReadUvarint(); err != nil || v != 300 {
			t.Fatalf("ReadUvarint = %d, %v", v, err)
		}
		p := make([]byte, 7)
		if err := in.ReadBytes(p); err != nil || string(p) != "payload" {
			t.Fatalf("ReadBytes = %q, %v", p, err)
		}
		if _, err := in.ReadByte(); err != io.EOF {
			t.Fatalf("expected EOF at end, got %v", err)
		}
	})
}

func TestClonesHaveIndependentPositions(t *testing.T) {
	withDirectories(t, func(t *testing.T, dir Directory) {
		out, err := dir.CreateOutput("c.dat", IOContextDefault)
		if err != nil {
			t.Fatal(err)
		}
		if err := out.WriteBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
			t.Fatal(err)
		}
		if err := out.Close(); err != nil {
			t.Fatal(err)
		}

		in, err := dir.OpenInput("c.dat", IOContextDefault)
		if err != nil {
			t.Fatal(err)
		}
		defer in.Close()

		if _, err := in.ReadUint32(); err != nil {
			t.Fatal(err)
		}

		clone := in.Clone()
		defer clone.Close()
		if clone.FilePointer() != in.FilePointer() {
			t.Fatal("clone did not inherit position")
		}

		if err := clone.Seek(0); err != nil {
			t.Fatal(err)
		}
		if b, _ := clone.ReadByte(); b != 1 {
			t.Fatalf("clone read %d, want 1", b)
		}
		if b, _ := in.ReadByte(); b != 5 {
			t.Fatalf("original read %d after clone seek, want 5", b)
		}
	})
}

func TestCreateExistingFails(t *testing.T) {
	withDirectories(t, func(t *testing.T, dir Directory) {
		out, err := dir.CreateOutput("dup.dat", IOContextDefault)
		if err != nil {
			t.Fatal(err)
		}
		if err := out.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := dir.CreateOutput("dup.dat", IOContextDefault); !errors.Is(err, diagon.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRenameAndDelete(t *testing.T) {
	withDirectories(t, func(t *testing.T, dir Directory) {
		out, err := dir.CreateOutput("a.tmp", IOContextDefault)
		if err != nil {
			t.Fatal(err)
		}
		if err := out.WriteBytes([]byte("x")); err != nil {
			t.Fatal(err)
		}
		if err := out.Close(); err != nil {
			t.Fatal(err)
		}

		if err := dir.Rename("a.tmp", "a.dat"); err != nil {
			t.Fatal(err)
		}
		names, err := dir.ListAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 1 || names[0] != "a.dat" {
			t.Fatalf("ListAll = %v", names)
		}

		if err := dir.DeleteFile("a.dat"); err != nil {
			t.Fatal(err)
		}
		if err := dir.DeleteFile("a.dat"); !errors.Is(err, diagon.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := dir.OpenInput("a.dat", IOContextDefault); !errors.Is(err, diagon.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestObtainLockExclusive(t *testing.T) {
	withDirectories(t, func(t *testing.T, dir Directory) {
		l, err := dir.ObtainLock("write.lock")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := dir.ObtainLock("write.lock"); err == nil {
			t.Fatal("second ObtainLock succeeded")
		}
		if err := l.Release(); err != nil {
			t.Fatal(err)
		}
		l2, err := dir.ObtainLock("write.lock")
		if err != nil {
			t.Fatalf("lock not reobtainable after release: %v", err)
		}
		_ = l2.Release()
	})
}

func TestSegmentFileName(t *testing.T) {
	if got := SegmentFileName("_0", "", "tim"); got != "_0.tim" {
		t.Fatalf("got %q", got)
	}
	if got := SegmentFileName("_0", "body", "tip"); got != "_0_body.tip" {
		t.Fatalf("got %q", got)
	}
}

func TestUvarintTruncationIsUnexpectedEOF(t *testing.T) {
	in := NewBytesInput("v", []byte{0x80, 0x80})
	if _, err := in.ReadUvarint(); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

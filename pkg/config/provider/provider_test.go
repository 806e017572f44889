package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input    string
		expected Type
		wantErr  bool
	}{
		{"file", TypeFile, false},
		{"", TypeFile, false},
		{"consul", TypeConsul, false},
		{"etcd", TypeEtcd, false},
		{"zookeeper", TypeZookeeper, false},
		{"zk", TypeZookeeper, false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseType(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for input %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestDefaultEndpoints(t *testing.T) {
	if got := DefaultEndpoints(TypeConsul); len(got) != 1 || got[0] != "localhost:8500" {
		t.Errorf("consul default = %v", got)
	}
	if got := DefaultEndpoints(TypeEtcd); len(got) != 1 || got[0] != "localhost:2379" {
		t.Errorf("etcd default = %v", got)
	}
	if got := DefaultEndpoints(TypeZookeeper); len(got) != 1 || got[0] != "localhost:2181" {
		t.Errorf("zookeeper default = %v", got)
	}
	if got := DefaultEndpoints(TypeFile); got != nil {
		t.Errorf("file default = %v, want nil", got)
	}
}

func TestNew_MissingPath(t *testing.T) {
	_, err := New(ProviderConfig{Type: TypeFile})
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(ProviderConfig{Type: Type("bogus"), Path: "x"})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestFileProvider_Load(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("name: test\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	p, err := New(ProviderConfig{Type: TypeFile, Path: path})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer p.Close()

	if p.Type() != TypeFile {
		t.Errorf("Type() = %s, want file", p.Type())
	}

	data, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "name: test\n" {
		t.Errorf("unexpected data: %q", data)
	}
}

func TestFileProvider_Load_NotFound(t *testing.T) {
	p, err := NewFileProvider("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer p.Close()

	if _, err := p.Load(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileProvider_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("name: a\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := p.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Give the watcher a moment to register
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte("name: b\n"), 0644); err != nil {
		t.Fatalf("failed to update file: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification")
	}
}

func TestFileProvider_Watch_AfterClose(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("name: a\n"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := p.Watch(context.Background()); err == nil {
		t.Fatal("expected error watching a closed provider")
	}
}

func TestConsulProvider_Validation(t *testing.T) {
	if _, err := NewConsulProvider(nil, "key"); err == nil {
		t.Error("expected error for missing endpoints")
	}
	if _, err := NewConsulProvider([]string{"localhost:8500"}, ""); err == nil {
		t.Error("expected error for missing key")
	}

	// Client construction does not dial, so this succeeds without a
	// running consul agent.
	p, err := NewConsulProvider([]string{"localhost:8500"}, "nestor/config")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if p.Type() != TypeConsul {
		t.Errorf("Type() = %s, want consul", p.Type())
	}
}

func TestEtcdProvider_Validation(t *testing.T) {
	if _, err := NewEtcdProvider(nil, "key"); err == nil {
		t.Error("expected error for missing endpoints")
	}
	if _, err := NewEtcdProvider([]string{"localhost:2379"}, ""); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestZookeeperProvider_Validation(t *testing.T) {
	if _, err := NewZookeeperProvider(nil, "/nestor/config"); err == nil {
		t.Error("expected error for missing endpoints")
	}
	if _, err := NewZookeeperProvider([]string{"localhost:2181"}, ""); err == nil {
		t.Error("expected error for missing path")
	}
}

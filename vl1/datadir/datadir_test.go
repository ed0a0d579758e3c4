package datadir

import (
	"os"
	"path/filepath"
	"testing"
)

type testConfig struct {
	Port int    `json:"port"`
	Name string `json:"name"`
}

func TestOpenCreatesDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "datadir")
	d, err := Open(base)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		t.Fatalf("expected %s to exist as a directory", base)
	}
	if d.BasePath != base {
		t.Fatalf("expected BasePath %s, got %s", base, d.BasePath)
	}
}

func TestReadIdentityGeneratesAndPersists(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id, err := d.ReadIdentity(true)
	if err != nil {
		t.Fatalf("ReadIdentity: %v", err)
	}

	for _, name := range []string{identitySecretFile, identityPublicFile} {
		if _, err := os.Stat(filepath.Join(d.BasePath, name)); err != nil {
			t.Fatalf("expected %s to be written: %v", name, err)
		}
	}

	reopened, err := d.ReadIdentity(false)
	if err != nil {
		t.Fatalf("ReadIdentity (reload): %v", err)
	}
	if reopened.Address != id.Address {
		t.Fatalf("expected reloaded identity to have the same address, got %s vs %s", reopened.Address, id.Address)
	}
}

func TestReadIdentityWithoutAutoGenerateFails(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := d.ReadIdentity(false); err == nil {
		t.Fatal("expected an error when identity.secret is missing and auto-generate is disabled")
	}
}

func TestAuthTokenGeneratesOnceAndPersists(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first, err := d.AuthToken()
	if err != nil {
		t.Fatalf("AuthToken: %v", err)
	}
	if len(first) != authTokenLength {
		t.Fatalf("expected a %d-character token, got %d", authTokenLength, len(first))
	}

	second, err := d.AuthToken()
	if err != nil {
		t.Fatalf("AuthToken (reload): %v", err)
	}
	if first != second {
		t.Fatalf("expected AuthToken to return the persisted token on reload")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var loaded testConfig
	if err := d.ReadConfig(&loaded); err != nil {
		t.Fatalf("ReadConfig on missing file: %v", err)
	}
	if loaded != (testConfig{}) {
		t.Fatalf("expected defaults to be left untouched, got %+v", loaded)
	}

	want := testConfig{Port: 9993, Name: "node-a"}
	if err := d.SaveConfig(&want); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	var got testConfig
	if err := d.ReadConfig(&got); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vigil-sec/vigil/pkg/cryptox"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "pepper")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

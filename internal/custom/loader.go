package custom

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"github.com/franz/onetagger/internal/platforms"
	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

// Compatibility is the plugin ABI version. Native plugins export a
// matching constant; a mismatch rejects the plugin.
const Compatibility int32 = 34

// LoadAll scans the platforms directory and registers every loadable
// plugin. Errors are logged, not fatal: a broken plugin must not take
// the built-in platforms down with it.
func LoadAll(registry *platforms.Registry) {
	dir, err := util.PlatformsFolder()
	if err != nil {
		util.WarnLog("Platforms directory unavailable: %v", err)
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		util.WarnLog("Failed to list platforms directory: %v", err)
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch {
		case !entry.IsDir() && strings.HasSuffix(entry.Name(), sharedObjectExt()):
			if err := loadNative(registry, path); err != nil {
				util.WarnLog("Skipping native plugin %s: %v", entry.Name(), err)
			}
		case entry.IsDir():
			if err := loadScript(registry, path); err != nil {
				util.WarnLog("Skipping script plugin %s: %v", entry.Name(), err)
			}
		}
	}
}

// loadNative opens a shared object and looks up its exported symbols:
// the Compatibility constant and the Builder constructor.
func loadNative(registry *platforms.Registry, path string) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	compatSym, err := p.Lookup("Compatibility")
	if err != nil {
		return fmt.Errorf("no Compatibility symbol: %w", err)
	}
	compat, ok := compatSym.(*int32)
	if !ok {
		return fmt.Errorf("Compatibility has wrong type")
	}
	if *compat != Compatibility {
		return fmt.Errorf("compatibility %d, host wants %d", *compat, Compatibility)
	}

	builderSym, err := p.Lookup("Builder")
	if err != nil {
		return fmt.Errorf("no Builder symbol: %w", err)
	}
	builderFn, ok := builderSym.(func() tagger.AutotaggerSourceBuilder)
	if !ok {
		return fmt.Errorf("Builder has wrong type")
	}

	builder := builderFn()
	registry.Register(builder)
	util.InfoLog("Loaded native plugin: %s", builder.Info().ID)
	return nil
}

// loadScript registers a Python script plugin. The directory carries a
// main.py entry point and is driven through a per-plugin interpreter in
// the sibling .python directory.
func loadScript(registry *platforms.Registry, dir string) error {
	entrypoint := filepath.Join(dir, "main.py")
	if _, err := os.Stat(entrypoint); err != nil {
		return fmt.Errorf("no main.py: %w", err)
	}

	// id is the directory name without the _<version> suffix
	id := filepath.Base(dir)
	if i := strings.LastIndexByte(id, '_'); i > 0 {
		id = id[:i]
	}

	python := filepath.Join(dir, ".python", "bin", "python3")
	if _, err := os.Stat(python); err != nil {
		python = "python3" // fall back to the system interpreter
	}

	registry.Register(&scriptBuilder{
		id:     id,
		python: python,
		script: entrypoint,
	})
	util.InfoLog("Loaded script plugin: %s", id)
	return nil
}

// scriptBuilder wraps a subprocess matcher as a source builder. The
// subprocess runs one matcher at a time, so MaxThreads is clamped to 1.
type scriptBuilder struct {
	id     string
	python string
	script string
}

func (b *scriptBuilder) Info() tagger.PlatformInfo {
	return tagger.PlatformInfo{
		ID:          b.id,
		Name:        b.id,
		Description: "Script plugin",
		MaxThreads:  1,
	}
}

func (b *scriptBuilder) Build(_ *tagger.TaggerConfig) (tagger.AutotaggerSource, error) {
	return NewSubprocessSource(b.python, b.script), nil
}

package playerfilter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/hotfix/internal/models"
)

func TestFilterForPlayerBuild(t *testing.T) {
	f := NewFilter([]string{"Gameplay", "UI"}, nil)

	input := []string{
		"Library/PlayerScriptAssemblies/Assembly-CSharp.dll",
		"Library/PlayerScriptAssemblies/gameplay.DLL",
		"Library/PlayerScriptAssemblies/UI.dll",
		"Library/PlayerScriptAssemblies/UI.Extensions.dll",
		"Library/PlayerScriptAssemblies/Gameplay.pdb",
	}
	want := []string{
		"Library/PlayerScriptAssemblies/Assembly-CSharp.dll",
		"Library/PlayerScriptAssemblies/UI.Extensions.dll",
		"Library/PlayerScriptAssemblies/Gameplay.pdb",
	}

	got := f.FilterForPlayerBuild(input)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterForPlayerBuild() = %v, want %v", got, want)
	}
	if len(input) != 5 {
		t.Error("input slice was modified")
	}
}

// TestFilterForPlayerBuild_Idempotent checks that filtering a filtered set is a no-op.
func TestFilterForPlayerBuild_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	f := NewFilter([]string{"Gameplay", "Core"}, nil)
	genPath := gen.OneConstOf(
		"Managed/Gameplay.dll",
		"Managed/GAMEPLAY.dll",
		"Managed/Core.dll",
		"Managed/CoreModule.dll",
		"Managed/UnityEngine.dll",
		"Assembly-CSharp.dll",
	)

	properties.Property("filter is idempotent", prop.ForAll(
		func(paths []string) bool {
			once := f.FilterForPlayerBuild(paths)
			twice := f.FilterForPlayerBuild(once)
			return reflect.DeepEqual(once, twice)
		},
		gen.SliceOf(genPath),
	))

	properties.Property("no hotfix binary survives", prop.ForAll(
		func(paths []string) bool {
			for _, p := range f.FilterForPlayerBuild(paths) {
				if f.IsHotfixBinary(p) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genPath),
	))

	properties.TestingRun(t)
}

func TestModuleNames(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Assets/Gameplay/Gameplay.asmdef"), `{"name": "Gameplay"}`)
	writeFile(t, filepath.Join(root, "Assets/Core/Core.asmdef"), `{"name": "Core"}`)

	names, err := ModuleNames(root, []models.AssemblyDescriptor{
		{Source: "Assets/Gameplay/Gameplay.asmdef"},
		{Source: "Assets/Core/Core.asmdef"},
	})
	if err != nil {
		t.Fatalf("ModuleNames: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"Gameplay", "Core"}) {
		t.Errorf("names = %v", names)
	}

	if _, err := ModuleNames(root, []models.AssemblyDescriptor{{}}); !errors.Is(err, models.ErrMissingSource) {
		t.Errorf("empty source error = %v, want ErrMissingSource", err)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

// builtPlayer lays out a standalone player with the given managed binaries.
func builtPlayer(t *testing.T, manifest string, managed ...string) (root, dataDir string) {
	t.Helper()
	root = t.TempDir()
	dataDir = filepath.Join(root, "Game_Data")
	writeFile(t, filepath.Join(dataDir, models.ManifestFileName), manifest)
	if err := os.MkdirAll(filepath.Join(dataDir, ManagedDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range managed {
		writeFile(t, filepath.Join(dataDir, ManagedDirName, name), "binary")
	}
	writeFile(t, filepath.Join(root, "Game.exe"), "exe")
	return root, dataDir
}

func TestPostProcessBuiltPlayer_RemovesLeakedBinary(t *testing.T) {
	root, dataDir := builtPlayer(t,
		`{"names":["UnityEngine.dll","Gameplay.dll","Assembly-CSharp.dll"],"types":[16,0,1]}`,
		"UnityEngine.dll", "Gameplay.dll", "Assembly-CSharp.dll",
	)
	f := NewFilter([]string{"Gameplay"}, nil)

	report, err := f.PostProcessBuiltPlayer(context.Background(), root)
	if err != nil {
		t.Fatalf("PostProcessBuiltPlayer: %v", err)
	}
	if report.DataDir != dataDir {
		t.Errorf("DataDir = %q, want %q", report.DataDir, dataDir)
	}
	if !report.Changed() || !report.ManifestWritten {
		t.Errorf("report = %+v, want changed", report)
	}
	if _, err := os.Stat(filepath.Join(dataDir, ManagedDirName, "Gameplay.dll")); !os.IsNotExist(err) {
		t.Error("leaked binary still present")
	}
	if _, err := os.Stat(filepath.Join(dataDir, ManagedDirName, "UnityEngine.dll")); err != nil {
		t.Errorf("unrelated binary removed: %v", err)
	}

	m, err := ReadManifest(filepath.Join(dataDir, models.ManifestFileName))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	want := &models.PlayerManifest{Names: []string{"UnityEngine.dll", "Assembly-CSharp.dll"}, Types: []int{16, 1}}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("manifest = %+v, want %+v", m, want)
	}
}

func TestPostProcessBuiltPlayer_CleanPlayerIsUntouched(t *testing.T) {
	manifest := `{"names":["UnityEngine.dll"],"types":[16]}`
	root, dataDir := builtPlayer(t, manifest, "UnityEngine.dll")
	manifestPath := filepath.Join(dataDir, models.ManifestFileName)

	past := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.Chtimes(manifestPath, past, past); err != nil {
		t.Fatal(err)
	}

	f := NewFilter([]string{"Gameplay"}, nil)
	report, err := f.PostProcessBuiltPlayer(context.Background(), root)
	if err != nil {
		t.Fatalf("PostProcessBuiltPlayer: %v", err)
	}
	if report.Changed() {
		t.Errorf("report = %+v, want no change", report)
	}

	info, err := os.Stat(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(past) {
		t.Error("manifest rewritten although nothing changed")
	}
	data, _ := os.ReadFile(manifestPath)
	if string(data) != manifest {
		t.Errorf("manifest content changed: %s", data)
	}
}

func TestPostProcessBuiltPlayer_DropsOrphanedManifestEntry(t *testing.T) {
	root, dataDir := builtPlayer(t,
		`{"names":["Gameplay.dll","UnityEngine.dll"],"types":[0,16]}`,
		"UnityEngine.dll",
	)
	f := NewFilter([]string{"Gameplay"}, nil)

	report, err := f.PostProcessBuiltPlayer(context.Background(), root)
	if err != nil {
		t.Fatalf("PostProcessBuiltPlayer: %v", err)
	}
	if len(report.Deleted) != 0 || !reflect.DeepEqual(report.ManifestRemoved, []string{"Gameplay.dll"}) {
		t.Errorf("report = %+v", report)
	}

	m, err := ReadManifest(filepath.Join(dataDir, models.ManifestFileName))
	if err != nil {
		t.Fatal(err)
	}
	if m.Contains("Gameplay.dll") || len(m.Types) != 1 || m.Types[0] != 16 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestPostProcessBuiltPlayer_OrphanMatchIsExact(t *testing.T) {
	root, dataDir := builtPlayer(t,
		`{"names":["gameplay.dll","UnityEngine.dll"],"types":[0,16]}`,
		"UnityEngine.dll",
	)
	manifestPath := filepath.Join(dataDir, models.ManifestFileName)
	before, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}

	report, err := NewFilter([]string{"Gameplay"}, nil).PostProcessBuiltPlayer(context.Background(), root)
	if err != nil {
		t.Fatalf("PostProcessBuiltPlayer: %v", err)
	}
	if report.Changed() {
		t.Errorf("report = %+v, want no change for a differently cased entry", report)
	}
	after, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Errorf("manifest rewritten: %s", after)
	}
}

func TestPostProcessBuiltPlayer_Errors(t *testing.T) {
	f := NewFilter([]string{"Gameplay"}, nil)

	if _, err := f.PostProcessBuiltPlayer(context.Background(), t.TempDir()); !errors.Is(err, ErrDataFolderNotFound) {
		t.Errorf("empty build error = %v, want ErrDataFolderNotFound", err)
	}

	root, _ := builtPlayer(t, `{"names":["Gameplay.dll"],"types":[]}`, "Gameplay.dll")
	if _, err := f.PostProcessBuiltPlayer(context.Background(), root); !errors.Is(err, models.ErrManifestMisaligned) {
		t.Errorf("misaligned manifest error = %v, want ErrManifestMisaligned", err)
	}
}

func TestFindDataDir_Nested(t *testing.T) {
	root := t.TempDir()
	data := filepath.Join(root, "Game.app", "Contents", "Resources", "Data")
	writeFile(t, filepath.Join(data, models.ManifestFileName), `{"names":[],"types":[]}`)
	if err := os.MkdirAll(filepath.Join(data, ManagedDirName), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindDataDir(root)
	if err != nil {
		t.Fatalf("FindDataDir: %v", err)
	}
	if got != data {
		t.Errorf("FindDataDir = %q, want %q", got, data)
	}
}

package architecture_test

import (
	"bufio"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// layerRule lists the internal packages a layer may not import. Paths are
// relative to the module's internal/ directory.
type layerRule struct {
	layer  string
	dir    string
	banned []string
}

var layerRules = []layerRule{
	{layer: "domain", dir: "domain/", banned: []string{"platform/", "services", "modules/", "jobs/", "app"}},
	{layer: "platform", dir: "platform/", banned: []string{"modules/", "jobs/", "app"}},
	{layer: "modules", dir: "modules/", banned: []string{"jobs/", "app"}},
	{layer: "jobs", dir: "jobs/", banned: []string{"app"}},
}

func ruleFor(rel string) (layerRule, bool) {
	for _, r := range layerRules {
		if strings.HasPrefix(rel, "internal/"+r.dir) {
			return r, true
		}
	}
	return layerRule{}, false
}

// violates returns the banned prefix imp matches, or "".
func (r layerRule) violates(modulePath, imp string) string {
	for _, b := range r.banned {
		if strings.HasPrefix(imp, modulePath+"/internal/"+b) {
			return b
		}
	}
	return ""
}

func TestLayerRules(t *testing.T) {
	const mod = "github.com/convolab/lessonaudio"
	tests := []struct {
		file string
		imp  string
		want string
	}{
		{"internal/modules/course/pipeline.go", mod + "/internal/jobs/runtime", "jobs/"},
		{"internal/modules/narrowlistening/pack.go", mod + "/internal/app", "app"},
		{"internal/modules/course/synth/synth.go", mod + "/internal/platform/logger", ""},
		{"internal/platform/redis/job_bus.go", mod + "/internal/services", ""},
		{"internal/platform/gcp/tts.go", mod + "/internal/modules/voices", "modules/"},
		{"internal/domain/lessons/plan.go", mod + "/internal/platform/logger", "platform/"},
		{"internal/jobs/worker/worker.go", mod + "/internal/modules/course", ""},
		{"internal/jobs/worker/worker.go", mod + "/internal/app", "app"},
	}
	for _, tt := range tests {
		r, ok := ruleFor(tt.file)
		if !ok {
			t.Fatalf("%s: no layer", tt.file)
		}
		if got := r.violates(mod, tt.imp); got != tt.want {
			t.Fatalf("%s -> %s: want %q got %q", tt.file, tt.imp, tt.want, got)
		}
	}
	for _, free := range []string{"internal/app/app.go", "internal/services/job_service.go", "cmd/lessonctl/root.go"} {
		if _, ok := ruleFor(free); ok {
			t.Fatalf("%s should not be layered", free)
		}
	}
}

func TestImportBoundaries(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	root, err := findModuleRoot(wd)
	if err != nil {
		t.Fatalf("find module root: %v", err)
	}
	modulePath, err := readModulePath(filepath.Join(root, "go.mod"))
	if err != nil {
		t.Fatalf("read module path: %v", err)
	}

	fset := token.NewFileSet()
	var violations []string
	walkErr := filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		rule, ok := ruleFor(rel)
		if !ok {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		for _, is := range f.Imports {
			imp, err := strconv.Unquote(is.Path.Value)
			if err != nil {
				continue
			}
			if bad := rule.violates(modulePath, imp); bad != "" {
				violations = append(violations, fmt.Sprintf("%s (%s) imports %q, %s may not import internal/%s", rel, rule.layer, imp, rule.layer, bad))
			}
		}
		return nil
	})
	if walkErr != nil {
		t.Fatalf("walk internal/: %v", walkErr)
	}
	if len(violations) > 0 {
		t.Fatalf("import boundary violations:\n- %s", strings.Join(violations, "\n- "))
	}
}

func findModuleRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}

func readModulePath(goModPath string) (string, error) {
	f, err := os.Open(goModPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if mp, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "module "); ok && strings.TrimSpace(mp) != "" {
			return strings.TrimSpace(mp), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("module path not found in %s", goModPath)
}

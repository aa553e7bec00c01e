package pkgutil

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Should be equivalent to packages.LoadAllSyntax (which is deprecated)
const LoadMode = packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypes |
	packages.NeedTypesSizes | packages.NeedImports | packages.NeedName |
	packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedDeps

var ErrLoad = errors.New("errors encountered while loading packages")

// Directory of the package loaded from in-memory sources. It lies outside of
// any module, so the package is loaded in GOPATH mode.
const overlayDir = "/fake/testpackage"

// LoadPackagesFromSource loads a single-file main package from source.
func LoadPackagesFromSource(source string) ([]*packages.Package, error) {
	return LoadPackagesFromFiles(map[string]string{"main.go": source})
}

// LoadPackagesFromFiles loads the package made of the given files, keyed by
// file name. The files do not exist on disk.
func LoadPackagesFromFiles(files map[string]string) ([]*packages.Package, error) {
	if len(files) == 0 {
		return nil, errors.Wrap(ErrLoad, "no source files")
	}

	overlay := make(map[string][]byte, len(files))
	var queries []string
	for name, src := range files {
		path := filepath.Join(overlayDir, name)
		overlay[path] = []byte(src)
		queries = append(queries, path)
	}
	sort.Strings(queries)

	return LoadPackagesWithConfig(&packages.Config{
		Mode:    LoadMode,
		Env:     append(os.Environ(), "GO111MODULE=off", "GOPATH=/fake"),
		Overlay: overlay,
	}, queries...)
}

func LoadPackagesWithConfig(config *packages.Config, queries ...string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(config, queries...)
	switch {
	case err != nil:
		return nil, errors.Wrap(err, "loading packages")
	case packages.PrintErrors(pkgs) > 0:
		return pkgs, ErrLoad
	default:
		return pkgs, nil
	}
}

// BuildSSA builds the SSA form of pkgs and all their dependencies and returns
// the program along with the SSA packages of pkgs.
func BuildSSA(pkgs []*packages.Package, mode ssa.BuilderMode) (*ssa.Program, []*ssa.Package) {
	prog, spkgs := ssautil.AllPackages(pkgs, mode|ssa.InstantiateGenerics)
	prog.Build()
	return prog, spkgs
}

// Package stack compiles a stack configuration into a deterministic
// build recipe and image tag. Compilation is a total pure mapping:
// identical input yields byte-identical recipe text.
package stack

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
)

// Recipe is the compiled build artifact descriptor.
type Recipe struct {
	Dockerfile string
	ImageTag   string
}

// dangerousCommands reject a recipe outright when present.
var dangerousCommands = []string{"rm -rf /", "chmod 777", "sudo", "--privileged"}

// Compiler turns stack configurations into recipes tagged under a
// registry scope.
type Compiler struct {
	registry string
}

// NewCompiler creates a Compiler. Tags are minted as
// {registry}/{identity}:latest.
func NewCompiler(registry string) *Compiler {
	return &Compiler{registry: registry}
}

// Validate checks the configuration against the supported matrix
// without producing a recipe.
func (c *Compiler) Validate(cfg domain.StackConfig) error {
	versions, ok := baseImages[cfg.Language]
	if !ok {
		return apperrors.ErrUnsupportedStackf(cfg.Language, cfg.Version, cfg.Framework)
	}
	if _, ok := versions[cfg.Version]; !ok {
		return apperrors.ErrUnsupportedStackf(cfg.Language, cfg.Version, cfg.Framework)
	}
	if cfg.Framework != "" {
		supported := false
		for _, f := range frameworks[cfg.Language] {
			if f == cfg.Framework {
				supported = true
				break
			}
		}
		if !supported {
			return apperrors.ErrUnsupportedStackf(cfg.Language, cfg.Version, cfg.Framework)
		}
	}
	return nil
}

// Compile produces the recipe and tag for one environment identity.
func (c *Compiler) Compile(cfg domain.StackConfig, identity string) (*Recipe, error) {
	if err := c.Validate(cfg); err != nil {
		return nil, err
	}

	dockerfile := c.render(cfg)
	if err := ValidateRecipe(dockerfile); err != nil {
		return nil, err
	}

	return &Recipe{
		Dockerfile: dockerfile,
		ImageTag:   fmt.Sprintf("%s/%s:latest", c.registry, identity),
	}, nil
}

func (c *Compiler) render(cfg domain.StackConfig) string {
	lines := []string{
		fmt.Sprintf("# Build recipe: %s %s, framework %q", cfg.Language, cfg.Version, cfg.Framework),
		"",
		"FROM " + baseImages[cfg.Language][cfg.Version],
		"",
		"WORKDIR /workspace",
		"",
	}

	lines = append(lines, languageSteps[cfg.Language]...)
	if steps, ok := frameworkSteps[cfg.Language][cfg.Framework]; ok {
		lines = append(lines, "")
		lines = append(lines, steps...)
	}

	if len(cfg.Packages) > 0 {
		if prefix, ok := packageInstall[cfg.Language]; ok {
			pkgs := append([]string(nil), cfg.Packages...)
			sort.Strings(pkgs)
			lines = append(lines, "", prefix+" "+strings.Join(pkgs, " "))
		}
	}

	lines = append(lines,
		"",
		"RUN curl -fsSL https://code-server.dev/install.sh | sh",
		"",
		"ENV KUBDEV_ENVIRONMENT=true",
		"ENV KUBDEV_LANGUAGE="+cfg.Language,
		"ENV KUBDEV_VERSION="+cfg.Version,
		"ENV KUBDEV_FRAMEWORK="+cfg.Framework,
		"",
		"EXPOSE 8080",
		"",
		"HEALTHCHECK --interval=30s --timeout=3s --start-period=5s --retries=3 \\",
		"  CMD curl -f http://localhost:8080/ || exit 1",
		"",
	)

	// Jupyter serves its own UI; everything else gets code-server.
	if cfg.Language == "python" && cfg.Framework == "jupyter" {
		lines = append(lines, `CMD ["jupyter", "notebook", "--ip=0.0.0.0", "--port=8080", "--no-browser", "--allow-root"]`)
	} else {
		lines = append(lines, `CMD ["code-server", "--bind-addr", "0.0.0.0:8080", "--auth", "none", "/workspace"]`)
	}

	return strings.Join(lines, "\n") + "\n"
}

// ValidateRecipe screens a Dockerfile for structural and safety
// problems.
func ValidateRecipe(dockerfile string) error {
	if !strings.Contains(dockerfile, "FROM ") {
		return apperrors.ErrRecipeRejectedf("recipe must contain a FROM instruction")
	}
	if !strings.Contains(dockerfile, "WORKDIR ") {
		return apperrors.ErrRecipeRejectedf("recipe must contain a WORKDIR instruction")
	}
	for _, cmd := range dangerousCommands {
		if strings.Contains(dockerfile, cmd) {
			return apperrors.ErrRecipeRejectedf("dangerous command detected: %s", cmd)
		}
	}
	return nil
}

// Supported returns the full supported matrix for discovery callers.
func (c *Compiler) Supported() Matrix {
	langs := make([]string, 0, len(baseImages))
	for lang := range baseImages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return Matrix{
		Languages:  langs,
		Frameworks: frameworks,
		Versions:   baseImages,
	}
}

package ui

import (
	"strings"
	"testing"
)

func TestShouldUseColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if ShouldUseColor() {
		t.Error("NO_COLOR should disable color even when CLICOLOR_FORCE is set")
	}

	t.Setenv("NO_COLOR", "")
	if !ShouldUseColor() {
		t.Error("CLICOLOR_FORCE should enable color")
	}
}

func TestRender_KeepsText(t *testing.T) {
	renders := map[string]func(string) string{
		"pass":   RenderPass,
		"warn":   RenderWarn,
		"fail":   RenderFail,
		"accent": RenderAccent,
		"muted":  RenderMuted,
		"bold":   RenderBold,
	}

	for name, render := range renders {
		if got := render("synced"); !strings.Contains(got, "synced") {
			t.Errorf("%s render = %q, want it to contain the text", name, got)
		}
	}
}

func TestRenderField(t *testing.T) {
	got := RenderField("Local clock:", "never")
	if !strings.Contains(got, "Local clock:") || !strings.HasSuffix(got, " never") {
		t.Errorf("RenderField() = %q", got)
	}
}

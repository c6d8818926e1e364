package main

import (
	"encoding/json"
	"testing"

	"voxelpipe/internal/module"
)

func TestModulesListsRegistry(t *testing.T) {
	out, _, err := runCLI(t, []string{"modules"}, "", "")
	if err != nil {
		t.Fatalf("modules: %v", err)
	}
	requireContains(t, out, "image_source_directory")
	requireContains(t, out, "image_resample")

	out, _, err = runCLI(t, []string{"modules", "--group", module.GroupSource, "--json"}, "", "")
	if err != nil {
		t.Fatalf("modules --group: %v", err)
	}
	var list []module.Descriptor
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode modules: %v\n%s", err, out)
	}
	if len(list) == 0 {
		t.Fatal("expected source modules")
	}
	for _, desc := range list {
		if desc.Group[0] != module.GroupSource {
			t.Fatalf("module %s outside source group: %v", desc.Name, desc.Group)
		}
	}
}

package library

import "testing"

func TestClassifyVersionName(t *testing.T) {
	cases := []struct {
		key, fallback, want string
	}{
		{"foo/foo.usda", "", VersionNameVariantSet},
		{"foo/LODs/foo_LOD0.usda", "", VersionNameLOD0},
		{"foo/LODs/foo_LOD1.usda", "", VersionNameLOD1},
		{"foo/LODs/foo_LOD2.usda", "", VersionNameLOD2},
		{"foo/LODs/foo_LOD3.usda", "", VersionNameVariantSet},
		{"foo/foo_lod1.usda", "", VersionNameVariantSet},
		{"x.usda", "", VersionNameVariantSet},
		{"foo/foo.fbx", "Source", "Source"},
		{"foo/foo.fbx", "", "foo.fbx"},
		{"foo/foo_LOD1.fbx", "", "foo_LOD1.fbx"},
	}
	for _, tc := range cases {
		if got := ClassifyVersionName(tc.key, tc.fallback); got != tc.want {
			t.Fatalf("ClassifyVersionName(%q, %q): got=%q want=%q", tc.key, tc.fallback, got, tc.want)
		}
	}
}

func TestNormalizeKeywords(t *testing.T) {
	got := NormalizeKeywords([]string{" Chair", "wood", "CHAIR", "", "  ", "Wood", "oak"})
	want := []string{"chair", "wood", "oak"}
	if len(got) != len(want) {
		t.Fatalf("len: got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("[%d]: got=%q want=%q", i, got[i], want[i])
		}
	}
}

func TestAuthorNames(t *testing.T) {
	a := &Author{Pennkey: "abc123"}
	if a.FullName() != "" || a.DisplayName() != "abc123" {
		t.Fatalf("placeholder: full=%q display=%q", a.FullName(), a.DisplayName())
	}
	a.FirstName, a.LastName = "Ada", "Lovelace"
	if a.DisplayName() != "Ada Lovelace" {
		t.Fatalf("display: got=%q", a.DisplayName())
	}
	var nilAuthor *Author
	if nilAuthor.FullName() != "" {
		t.Fatal("nil author should have empty name")
	}
}

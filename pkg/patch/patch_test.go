package patch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/simlens/pkg/config"
	"github.com/devicelab-dev/simlens/pkg/core"
	"github.com/devicelab-dev/simlens/pkg/rules"
)

const loginScreen = `import 'package:flutter/material.dart';

class EnhancedLoginScreen extends StatelessWidget {
  @override
  Widget build(BuildContext context) {
    return Column(
      children: [
        Text(
          'Forgot password?',
          style: AppTheme.caption1.copyWith(
            color: Colors.blue,
          ),
        ),
        Row(
          children: [
            PrimaryButton(label: 'Google'),
            PrimaryButton(label: 'Apple'),
          ],
        ),
      ],
    );
  }
}
`

const appTheme = `class AppTheme {
  static Color primaryText(Brightness brightness) {
    return brightness == Brightness.dark ? Colors.white : Colors.black;
  }
}
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func flutterPatcher(t *testing.T, root string, dryRun bool) *Patcher {
	t.Helper()
	p, err := NewPatcher(config.PatchesConfig{Root: root, Presets: []string{"flutter"}, Backup: true, Validate: true}, dryRun)
	require.NoError(t, err)
	return p
}

func issue(typ string) rules.Issue {
	return rules.Issue{Type: typ, Severity: core.SeverityHigh}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestCompile_Errors(t *testing.T) {
	base := config.PatchRule{ID: "r", IssueType: "contrast", Files: []string{"*.dart"}, Anchor: "x", Insert: "y"}
	tests := []struct {
		name   string
		mutate func(r *config.PatchRule)
	}{
		{"no id", func(r *config.PatchRule) { r.ID = "" }},
		{"no issue type", func(r *config.PatchRule) { r.IssueType = "" }},
		{"no files", func(r *config.PatchRule) { r.Files = nil }},
		{"bad glob", func(r *config.PatchRule) { r.Files = []string{"lib/[a.dart"} }},
		{"no anchor", func(r *config.PatchRule) { r.Anchor = "" }},
		{"bad anchor", func(r *config.PatchRule) { r.Anchor = "(" }},
		{"bad guard", func(r *config.PatchRule) { r.Guard = "[" }},
		{"bad position", func(r *config.PatchRule) { r.Position = "around" }},
		{"no insert", func(r *config.PatchRule) { r.Insert = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			_, err := Compile(r)
			assert.ErrorIs(t, err, core.ErrPatchInvalid)
		})
	}

	r, err := Compile(base)
	require.NoError(t, err)
	assert.Equal(t, PositionAfter, r.Position)
	assert.Equal(t, DefaultWindow, r.Window)
	assert.Equal(t, 1, r.MaxEdits)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"lib/**/*.dart", "lib/main.dart", true},
		{"lib/**/*.dart", "lib/screens/auth/login.dart", true},
		{"lib/**/*.dart", "test/login.dart", false},
		{"lib/theme/*.dart", "lib/theme/app_theme.dart", true},
		{"lib/theme/*.dart", "lib/theme/dark/app_theme.dart", false},
		{"**", "anything/at/all.txt", true},
		{"*.swift", "App.swift", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchGlob(tt.pattern, tt.name), "%s ~ %s", tt.pattern, tt.name)
	}
}

func TestPreset(t *testing.T) {
	rs, err := Preset("flutter")
	require.NoError(t, err)
	assert.Len(t, rs, 3)
	assert.Equal(t, []string{"flutter"}, PresetNames())

	_, err = Preset("react")
	assert.ErrorIs(t, err, core.ErrPatchInvalid)
}

func TestCompileAll_CustomOverridesPreset(t *testing.T) {
	rs, err := CompileAll(config.PatchesConfig{
		Presets: []string{"flutter"},
		Rules: []config.PatchRule{
			{ID: "flutter.contrast", IssueType: "contrast", Files: []string{"lib/theme.dart"}, Anchor: "class", Insert: "x"},
			{ID: "swift.overflow", IssueType: "text_overflow", Files: []string{"**/*.swift"}, Anchor: `Text\(`, Insert: "x"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rs, 4)
	assert.Equal(t, []string{"lib/theme.dart"}, rs[2].Files)
	assert.Equal(t, "swift.overflow", rs[3].ID)
}

func TestPlan_OnlyTriggeredRules(t *testing.T) {
	root := writeTree(t, map[string]string{
		"lib/screens/auth/enhanced_login_screen.dart": loginScreen,
		"lib/theme/app_theme.dart":                    appTheme,
	})
	p := flutterPatcher(t, root, true)

	plan, err := p.Planner.Plan([]rules.Issue{issue(rules.TypeTextOverflow)})
	require.NoError(t, err)
	require.Len(t, plan.Edits, 1)
	e := plan.Edits[0]
	assert.Equal(t, "flutter.text_overflow", e.RuleID)
	assert.Equal(t, "lib/screens/auth/enhanced_login_screen.dart", e.File)
	assert.Equal(t, 10, e.Line)
	assert.Equal(t, "\n            overflow: TextOverflow.ellipsis,", e.New, "indented like the anchor line")
	assert.Empty(t, plan.Errors)

	none, err := p.Planner.Plan([]rules.Issue{issue("unknown_type")})
	require.NoError(t, err)
	assert.True(t, none.Empty())
}

func TestApply_WritesBackupsAndDiff(t *testing.T) {
	root := writeTree(t, map[string]string{
		"lib/screens/auth/enhanced_login_screen.dart": loginScreen,
		"lib/theme/app_theme.dart":                    appTheme,
	})
	p := flutterPatcher(t, root, false)
	issues := []rules.Issue{issue(rules.TypeTextOverflow), issue(rules.TypeButtonAlignment), issue(rules.TypeContrast)}

	plan, res, err := p.Fix(context.Background(), issues)
	require.NoError(t, err)
	require.Len(t, plan.Edits, 3)
	assert.Empty(t, res.Failed())
	assert.Equal(t, 3, res.Applied())
	assert.Len(t, res.Written(), 2)

	login := readFile(t, root, "lib/screens/auth/enhanced_login_screen.dart")
	assert.Contains(t, login, "style: AppTheme.caption1.copyWith(\n            overflow: TextOverflow.ellipsis,\n            color: Colors.blue,")
	assert.Contains(t, login, "Row(\n          mainAxisAlignment: MainAxisAlignment.spaceEvenly,\n          children: [")
	assert.Contains(t, readFile(t, root, "lib/theme/app_theme.dart"), "{\n    // contrastRatio:")

	assert.Equal(t, loginScreen, readFile(t, root, "lib/screens/auth/enhanced_login_screen.dart.orig"))
	assert.Contains(t, res.Diff(), "--- a/lib/theme/app_theme.dart")
	assert.Contains(t, res.Diff(), "+          mainAxisAlignment: MainAxisAlignment.spaceEvenly,")
}

func TestApply_Idempotent(t *testing.T) {
	root := writeTree(t, map[string]string{
		"lib/screens/auth/enhanced_login_screen.dart": loginScreen,
		"lib/theme/app_theme.dart":                    appTheme,
	})
	p := flutterPatcher(t, root, false)
	issues := []rules.Issue{issue(rules.TypeTextOverflow), issue(rules.TypeButtonAlignment), issue(rules.TypeContrast)}

	_, _, err := p.Fix(context.Background(), issues)
	require.NoError(t, err)
	first := readFile(t, root, "lib/screens/auth/enhanced_login_screen.dart")

	plan, res, err := p.Fix(context.Background(), issues)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, 0, res.Applied())
	assert.Len(t, plan.Skipped, 3)
	for _, s := range plan.Skipped {
		assert.Equal(t, SkipGuarded, s.Reason)
	}
	assert.Empty(t, plan.Errors, "guarded matches still count as found anchors")
	assert.Equal(t, first, readFile(t, root, "lib/screens/auth/enhanced_login_screen.dart"))
}

func TestApply_IdempotentBefore(t *testing.T) {
	root := writeTree(t, map[string]string{"lib/a.dart": "class A {}\n"})
	p, err := NewPatcher(config.PatchesConfig{Root: root, Rules: []config.PatchRule{
		{ID: "immutable", IssueType: "t", Files: []string{"lib/*.dart"}, Anchor: "^class A", Position: "before", Insert: "@immutable\n", Guard: "@immutable"},
	}}, false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _, err := p.Fix(context.Background(), []rules.Issue{issue("t")})
		require.NoError(t, err)
	}
	assert.Equal(t, "@immutable\nclass A {}\n", readFile(t, root, "lib/a.dart"))

	plan, err := p.Planner.Plan([]rules.Issue{issue("t")})
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, SkipGuarded, plan.Skipped[0].Reason)
}

func TestApply_DryRunLeavesFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"lib/theme/app_theme.dart": appTheme})
	p := flutterPatcher(t, root, true)

	_, res, err := p.Fix(context.Background(), []rules.Issue{issue(rules.TypeContrast)})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	assert.False(t, res.Files[0].Written)
	assert.NotEmpty(t, res.Files[0].Diff)
	assert.Equal(t, appTheme, readFile(t, root, "lib/theme/app_theme.dart"))
	_, err = os.Stat(filepath.Join(root, "lib/theme/app_theme.dart.orig"))
	assert.True(t, os.IsNotExist(err))
}

func TestPlan_AnchorNotFound(t *testing.T) {
	root := writeTree(t, map[string]string{"lib/theme/app_theme.dart": "class AppTheme {}\n"})
	p := flutterPatcher(t, root, false)

	plan, err := p.Planner.Plan([]rules.Issue{issue(rules.TypeContrast), issue(rules.TypeTextOverflow)})
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	require.Len(t, plan.Errors, 2)
	for _, e := range plan.Errors {
		assert.ErrorIs(t, e, core.ErrAnchorNotFound)
	}
	assert.Equal(t, "class AppTheme {}\n", readFile(t, root, "lib/theme/app_theme.dart"))
}

func TestPlan_MaxEditsAndPositions(t *testing.T) {
	root := writeTree(t, map[string]string{"src/a.txt": "one TODO two TODO three TODO\n"})
	rs, err := CompileAll(config.PatchesConfig{Rules: []config.PatchRule{
		{ID: "swap", IssueType: "t", Files: []string{"src/*.txt"}, Anchor: "TODO", Position: "replace", Insert: "DONE", MaxEdits: 2},
		{ID: "mark", IssueType: "t", Files: []string{"src/*.txt"}, Anchor: "^one", Position: "before", Insert: "> "},
	}})
	require.NoError(t, err)
	plan, err := NewPlanner(root, rs).Plan([]rules.Issue{issue("t")})
	require.NoError(t, err)
	require.Len(t, plan.Edits, 3)
	assert.Equal(t, "mark", plan.Edits[0].RuleID, "sorted by offset")
	assert.Equal(t, "TODO", plan.Edits[1].Old)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, SkipMaxEdits, plan.Skipped[0].Reason)

	res, err := Apply(context.Background(), plan, ApplyOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied())
	assert.Equal(t, "> one DONE two DONE three TODO\n", readFile(t, root, "src/a.txt"))
}

func TestPlan_OverlappingEdits(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "hello world\n"})
	rs, err := CompileAll(config.PatchesConfig{Rules: []config.PatchRule{
		{ID: "first", IssueType: "t", Files: []string{"*.txt"}, Anchor: "hello world", Position: "replace", Insert: "hi"},
		{ID: "second", IssueType: "t", Files: []string{"*.txt"}, Anchor: "world", Position: "replace", Insert: "earth"},
	}})
	require.NoError(t, err)
	plan, err := NewPlanner(root, rs).Plan([]rules.Issue{issue("t")})
	require.NoError(t, err)
	require.Len(t, plan.Edits, 1)
	assert.Equal(t, "first", plan.Edits[0].RuleID)
	require.Len(t, plan.Skipped, 1)
	assert.Equal(t, SkipOverlap, plan.Skipped[0].Reason)
}

func TestApply_FileChangedSincePlan(t *testing.T) {
	root := writeTree(t, map[string]string{"lib/theme/app_theme.dart": appTheme})
	p := flutterPatcher(t, root, false)
	plan, err := p.Planner.Plan([]rules.Issue{issue(rules.TypeContrast)})
	require.NoError(t, err)

	edited := appTheme + "// edited\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib/theme/app_theme.dart"), []byte(edited), 0o644))

	res, err := Apply(context.Background(), plan, p.Options)
	require.NoError(t, err)
	require.Len(t, res.Failed(), 1)
	assert.ErrorIs(t, res.Failed()[0].Err, core.ErrFileChanged)
	assert.Equal(t, edited, readFile(t, root, "lib/theme/app_theme.dart"))
}

func TestApply_RejectsBrokenDart(t *testing.T) {
	root := writeTree(t, map[string]string{"lib/theme/app_theme.dart": appTheme})
	rs, err := CompileAll(config.PatchesConfig{Rules: []config.PatchRule{
		{ID: "bad", IssueType: "contrast", Files: []string{"lib/**/*.dart"}, Anchor: `\{`, Insert: "{"},
	}})
	require.NoError(t, err)
	p := &Patcher{Planner: NewPlanner(root, rs), Options: ApplyOptions{Validate: true}}

	_, res, err := p.Fix(context.Background(), []rules.Issue{issue(rules.TypeContrast)})
	require.NoError(t, err)
	require.Len(t, res.Failed(), 1)
	assert.ErrorIs(t, res.Failed()[0].Err, core.ErrSyntaxBroken)
	assert.Equal(t, appTheme, readFile(t, root, "lib/theme/app_theme.dart"))
}

func TestValidate_TreeSitter(t *testing.T) {
	ctx := context.Background()
	good := []byte("struct Login { let title = \"Sign in\" }\n")
	assert.NoError(t, Validate(ctx, "Login.swift", good, []byte("struct Login {\n  let title = \"Sign in\"\n  let x = 1\n}\n")))
	assert.ErrorIs(t, Validate(ctx, "Login.swift", good, []byte("struct Login { let title = \n")), core.ErrSyntaxBroken)

	js := []byte("function f(a) { return a + 1; }\n")
	assert.NoError(t, Validate(ctx, "f.js", js, js))
	assert.ErrorIs(t, Validate(ctx, "f.ts", js, []byte("function f(a) { return a + ; }\n")), core.ErrSyntaxBroken)

	kt := []byte("fun main() { println(\"hi\") }\n")
	assert.ErrorIs(t, Validate(ctx, "Main.kt", kt, []byte("fun main() { println(\"hi\" }\n")), core.ErrSyntaxBroken)

	assert.NoError(t, Validate(ctx, "notes.txt", []byte("a"), []byte("((")))
}

func TestBalanceProblem(t *testing.T) {
	tests := []struct {
		name string
		src  string
		ok   bool
	}{
		{"balanced", "void main() { print([1, 2]); }", true},
		{"brace in string", "var s = '{'; var t = \"(\";", true},
		{"brace in comment", "// {\n/* ( [ */ f();", true},
		{"triple quoted", "var s = '''\n{ (\n''';", true},
		{"raw string", `var s = r'\'; f();`, true},
		{"unclosed", "void main() {", false},
		{"mismatched", "f(];", false},
		{"unterminated string", "var s = 'abc;\n", false},
		{"unterminated comment", "/* never ends", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := balanceProblem(tt.src)
			if tt.ok {
				assert.Empty(t, got)
			} else {
				assert.NotEmpty(t, got)
			}
		})
	}
}

func TestValidate_DartAlreadyBroken(t *testing.T) {
	broken := []byte("void main() {")
	assert.NoError(t, Validate(context.Background(), "a.dart", broken, []byte(strings.Repeat("void main() {", 2))),
		"a file that was already unbalanced is not blamed on the patch")
}

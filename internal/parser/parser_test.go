package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/nexus/pkg/types"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/app.TS", "typescript"},
		{"lib/util.mjs", "javascript"},
		{"pkg/mod.py", "python"},
		{"README.md", "markdown"},
		{"Makefile", ""},
		{"archive.tar.gz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.path))
		})
	}
}

func TestParse_GoFile(t *testing.T) {
	src := `package testpkg

import "fmt"

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return u.Name
}

type Store interface {
	Get(id int) (*User, error)
}

func NewUser(id int, name string) *User {
	fmt.Println("new user")
	return &User{ID: id, Name: name}
}
`
	result := New().Parse("go", []byte(src))
	require.False(t, result.HasErrors())
	require.Len(t, result.Symbols, 4)

	user := result.Symbols[0]
	assert.Equal(t, "User", user.Name)
	assert.Equal(t, types.KindClass, user.Kind)
	assert.Equal(t, 5, user.StartLine, "span includes the doc comment")
	assert.Equal(t, 9, user.EndLine)

	getName := result.Symbols[1]
	assert.Equal(t, "GetName", getName.Name)
	assert.Equal(t, types.KindMethod, getName.Kind)
	assert.Equal(t, 11, getName.StartLine)
	assert.Equal(t, 14, getName.EndLine)

	assert.Equal(t, "Store", result.Symbols[2].Name)
	assert.Equal(t, types.KindInterface, result.Symbols[2].Kind)

	assert.Equal(t, "NewUser", result.Symbols[3].Name)
	assert.Equal(t, types.KindFunction, result.Symbols[3].Kind)
}

func TestParse_GoSyntaxErrorIsNonFatal(t *testing.T) {
	src := `package broken

func Good() int {
	return 1
}

func Bad( {
`
	result := New().Parse("go", []byte(src))
	assert.True(t, result.HasErrors())
	require.NotEmpty(t, result.Symbols)
	assert.Equal(t, "Good", result.Symbols[0].Name)
}

func TestParse_RegexLanguages(t *testing.T) {
	src := `use std::fmt;

pub struct Point {
    x: i32,
}

impl Point {
    pub fn new(x: i32) -> Self {
        Point { x }
    }
}

fn main() {
    println!("hi");
}
`
	result := New().Parse("rust", []byte(src))
	names := make([]string, 0, len(result.Symbols))
	for _, s := range result.Symbols {
		names = append(names, s.Name)
		require.NoError(t, s.Validate())
	}

	// new() sits inside impl Point and is folded into it
	assert.Equal(t, []string{"Point", "Point", "main"}, names)
	assert.Equal(t, types.KindClass, result.Symbols[0].Kind)
	assert.Equal(t, types.KindFunction, result.Symbols[2].Kind)
	assert.Equal(t, 15, result.Symbols[2].EndLine)
}

func TestParse_UnknownLanguage(t *testing.T) {
	result := New().Parse("", []byte("anything"))
	assert.Empty(t, result.Symbols)

	result = New().Parse("markdown", []byte("# Title\n"))
	assert.Empty(t, result.Symbols)
}

func TestParse_PythonSymbols(t *testing.T) {
	src := `import os


class Greeter:
    def greet(self):
        return "hi"


def main():
    print(Greeter().greet())
`
	result := New().Parse("python", []byte(src))
	require.Len(t, result.Symbols, 2)
	assert.Equal(t, "Greeter", result.Symbols[0].Name)
	assert.Equal(t, types.KindClass, result.Symbols[0].Kind)
	assert.Equal(t, 4, result.Symbols[0].StartLine)
	assert.Equal(t, "main", result.Symbols[1].Name)
	assert.Equal(t, types.KindFunction, result.Symbols[1].Kind)
	assert.Equal(t, 9, result.Symbols[1].StartLine)
}

func TestOutermost(t *testing.T) {
	in := []types.Symbol{
		{Name: "inner", StartLine: 3, EndLine: 4},
		{Name: "outer", StartLine: 2, EndLine: 10},
		{Name: "next", StartLine: 11, EndLine: 12},
	}

	out := outermost(in)
	require.Len(t, out, 2)
	assert.Equal(t, "outer", out[0].Name)
	assert.Equal(t, "next", out[1].Name)
}

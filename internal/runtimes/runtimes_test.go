package runtimes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skillgen/internal/model"
)

func TestRegistry_Lookup(t *testing.T) {
	t.Parallel()
	reg := Default()

	tests := []struct {
		name string
		want string
	}{
		{"python", "python"},
		{"py", "python"},
		{"PyPI", "python"},
		{"javascript", "node"},
		{"js", "node"},
		{"npm", "node"},
		{"go", "go"},
		{"golang", "go"},
	}
	for _, tt := range tests {
		rt, ok := reg.Lookup(tt.name)
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.want, rt.ID())
	}

	_, ok := reg.Lookup("rust")
	assert.False(t, ok)
	assert.Equal(t, []string{"go", "node", "python"}, reg.IDs())

	_, ok = reg.Get("py")
	assert.False(t, ok, "Get only resolves canonical ids")
}

func TestPython_Imports(t *testing.T) {
	t.Parallel()

	code := `import os, sys as system
from requests.adapters import HTTPAdapter
import requests
from . import local
import numpy.linalg
`
	assert.Equal(t, []string{"os", "sys", "requests", "numpy"}, Python{}.Imports(code))
}

func TestNode_Imports(t *testing.T) {
	t.Parallel()

	code := `import fs from 'node:fs';
import { get } from "lodash/get";
import {
  a,
  b,
} from '@scope/pkg/sub';
const path = require('path');
const local = require('./local');
const lazy = await import('chalk');
`
	assert.Equal(t, []string{"node:fs", "lodash", "@scope/pkg", "path", "chalk"}, Node{}.Imports(code))
	assert.Equal(t, "main.mjs", Node{}.FileName(code))
	assert.Equal(t, "main.cjs", Node{}.FileName(`const _ = require('lodash')`))
}

func TestGo_Imports(t *testing.T) {
	t.Parallel()

	code := `package main

import "fmt"

import (
	"os"
	uuid "github.com/google/uuid"
	_ "modernc.org/sqlite"
)
`
	assert.Equal(t, []string{"fmt", "os", "github.com/google/uuid", "modernc.org/sqlite"}, Go{}.Imports(code))
	assert.True(t, Go{}.IsStdlib("net/http"))
	assert.False(t, Go{}.IsStdlib("github.com/google/uuid"))
	assert.Equal(t, "golang.org/x/text", Go{}.modulePath("golang.org/x/text/unicode/norm"))
	assert.Equal(t, "github.com/a/b", Go{}.modulePath("github.com/a/b/c/d"))
}

func TestDependencies(t *testing.T) {
	t.Parallel()

	py := model.LibraryMetadata{Name: "beautifulsoup4", ImportName: "bs4", Version: "4.12.3"}
	assert.Equal(t,
		[]string{"beautifulsoup4==4.12.3", "lxml"},
		Dependencies(Python{}, []string{"os", "bs4", "lxml", "bs4"}, py),
	)

	node := model.LibraryMetadata{Name: "lodash", Version: "4.17.21"}
	assert.Equal(t, []string{"lodash@4.17.21"}, Dependencies(Node{}, []string{"fs", "lodash"}, node))

	goLib := model.LibraryMetadata{Name: "github.com/google/uuid", Version: "1.6.0"}
	assert.Equal(t,
		[]string{"github.com/google/uuid@v1.6.0", "golang.org/x/text"},
		Dependencies(Go{}, []string{"fmt", "github.com/google/uuid", "golang.org/x/text/cases"}, goLib),
	)
}

func TestContainerScript_QuotesDependencies(t *testing.T) {
	t.Parallel()

	script := Python{}.ContainerScript("main.py", []string{"requests==2.32.3"})
	assert.Contains(t, script, "cp -r /probe /work")
	assert.Contains(t, script, "pip install")
	assert.Contains(t, script, "requests==2.32.3")
	assert.Contains(t, script, "exec python main.py")

	noDeps := Node{}.ContainerScript("main.mjs", nil)
	assert.NotContains(t, noDeps, "npm install")
	assert.Contains(t, noDeps, "exec node main.mjs")

	goScript := Go{}.ContainerScript("main.go", []string{"github.com/google/uuid@v1.6.0"})
	assert.Contains(t, goScript, "go mod init probe")
	assert.Contains(t, goScript, "go get github.com/google/uuid@v1.6.0")
}

func TestLocalSteps(t *testing.T) {
	t.Parallel()

	steps := Python{}.LocalSteps("/tmp/w", "main.py", []string{"requests"})
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"python3", "-m", "venv", "/tmp/w/.venv"}, steps[0])
	assert.Equal(t, "/tmp/w/.venv/bin/pip", steps[1][0])
	assert.Equal(t, "requests", steps[1][len(steps[1])-1])
	assert.Equal(t, []string{"/tmp/w/.venv/bin/python", "main.py"}, steps[2])

	assert.Len(t, Node{}.LocalSteps("/tmp/w", "main.mjs", nil), 1)
	assert.Len(t, Go{}.LocalSteps("/tmp/w", "main.go", []string{"x.io/y"}), 3)
}

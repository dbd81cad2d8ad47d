/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_PlainNameValue(t *testing.T) {
	name, value, err := ParseLine([]byte("Content-Type: text/plain"))
	require.NoError(t, err)
	assert.Equal(t, "Content-Type", name)
	assert.Equal(t, "text/plain", value)
}

func TestParseLine_TrailingWhitespaceBeforeColonIsTolerated(t *testing.T) {
	name, value, err := ParseLine([]byte("Foo : bar"))
	require.NoError(t, err)
	assert.Equal(t, "Foo", name)
	assert.Equal(t, "bar", value)
}

func TestParseLine_EmbeddedWhitespaceInNameIsRejected(t *testing.T) {
	_, _, err := ParseLine([]byte("Foo Bar: baz"))
	require.Error(t, err)
	assert.Equal(t, ErrInvalidHeaderLine, err)
}

func TestParseLine_MissingColonIsRejected(t *testing.T) {
	_, _, err := ParseLine([]byte("NoColonHere"))
	require.Error(t, err)
	assert.Equal(t, ErrInvalidHeaderLine, err)
}

func TestParseLine_EmptyNameIsRejected(t *testing.T) {
	_, _, err := ParseLine([]byte(": value"))
	require.Error(t, err)
	assert.Equal(t, ErrInvalidHeaderLine, err)
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package promptbuilder renders `{{name}}` templates.
//
// Two kinds of rendering are supported:
//
//   - Template.Render substitutes plain string values. It is used for
//     reference layouts such as "source/{{race}}_{{gender}}_{{age}}.png",
//     where every value comes from a decoded file name.
//   - Prompt binds structured data (XML, YAML, JSON) to placeholders and is
//     used for rubric prompts. Operator-supplied text such as rubric content
//     is always bound as XML character data so it cannot inject new
//     placeholders or markup into the surrounding instructions.
//
// Prompt templates must be string literals; NewPrompt takes an unexported
// string type so that templates cannot be assembled from runtime input.
//
//	var scorePrompt = promptbuilder.MustNewPrompt(`<task>Score the images.</task>
//	{{rubric}}`)
//
//	p, err := scorePrompt.BindXML("rubric", struct {
//		XMLName struct{} `xml:"rubric"`
//		Content string   `xml:",chardata"`
//	}{Content: text})
//
// Prompts are immutable: every Bind call returns a new Prompt.
package promptbuilder

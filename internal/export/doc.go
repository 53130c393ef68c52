// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders stored conversations for use outside kai.
//
// # Supported Formats
//
//   - md: Markdown with YAML frontmatter; attachments listed by type
//   - json: the history schema, attachments included
//   - html: a standalone page; images inlined as data URIs
//
// # Usage
//
//	exporter, err := export.ForFormat("html", nil)
//	if err != nil {
//	    return err
//	}
//	path, err := export.ExportToFile(conv, exporter, &export.Options{OutputDir: dir, IncludeMetadata: true})
package export

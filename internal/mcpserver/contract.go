package mcpserver

// NoteFormatContract describes how LLM consumers should describe a note
// when publishing it.
const NoteFormatContract = `# Skillnotes Publishing Contract

A published note is a file plus descriptive metadata.

## Files

- Accepted types: pdf, doc, docx, png, jpg, jpeg, zip, md.
- The file content must match its extension.
- The file is passed to ` + "`" + `publish_note` + "`" + ` as a base64 data URI, an http(s) URL or a
  local path readable by the server.

## Metadata

| Field       | Rule                                   |
|-------------|----------------------------------------|
| title       | required, 1 to 255 characters          |
| description | optional, at most 2000 characters      |
| college     | required, 1 to 255 characters          |
| stream      | required, 1 to 255 characters          |
| branch      | required, 1 to 255 characters          |
| semester    | required, 1 to 10                      |
| subject     | required, 1 to 255 characters          |
| is_public   | optional, defaults to true             |

## Markdown notes

Markdown files may declare their metadata in YAML frontmatter. Fields given
to the tool win over the file; a missing title falls back to the first H1.

` + "```" + `markdown
---
title: Process scheduling
college: NIT Trichy
stream: Engineering
branch: CSE
semester: 5
subject: Operating Systems
---

# Process scheduling

Round robin gives every process a fixed time slice.
` + "```" + `
`

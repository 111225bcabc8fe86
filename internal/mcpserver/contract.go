package mcpserver

// NoteFormatContract describes the note markup that LLM consumers should
// follow when reading or writing note bodies.
const NoteFormatContract = `# Quire Note Markup Contract

Note bodies are ENML-style XML stored in a per-note document log. Titles,
notebooks and tags live in the relational store, not in the body.

## Structure

` + "```" + `xml
<en-note>
  <div>Body text with <b>inline</b> markup.</div>
  <img src="3f/3f9a...c1.png" alt="diagram.png"/>
  <a href="note://plan-0001">Link to another note</a>
</en-note>
` + "```" + `

## Rules

1. **Root element** is ` + "`" + `<en-note>` + "`" + `.
2. **Asset references** are durable paths ` + "`" + `hh/<sha256>[.ext]` + "`" + ` where ` + "`" + `hh` + "`" + ` is
   the first two hex characters of the hash. Never write absolute paths, ` + "`" + `file://` + "`" + `,
   ` + "`" + `blob:` + "`" + ` or ` + "`" + `http://localhost` + "`" + ` URLs.
3. **Display locators** (` + "`" + `<base>/assets/<uuid>` + "`" + `) are valid only for the running
   process. Do not persist them; read notes through ` + "`" + `read_note` + "`" + `, which returns
   durable references.
4. **Note links** use ` + "`" + `note://<externalId>` + "`" + ` in an ` + "`" + `href` + "`" + `.
5. **Media elements** ` + "`" + `<en-media hash="..." type="..."/>` + "`" + ` are legacy. They are
   resolved to ` + "`" + `<img>` + "`" + ` or ` + "`" + `<a>` + "`" + ` on export; prefer the explicit forms.

## Assets

- Import bytes with the ` + "`" + `upload_asset` + "`" + ` tool. It returns ` + "`" + `ref` + "`" + ` (the durable
  reference) and ` + "`" + `markup` + "`" + ` (an element ready to paste into the body).
- Passing ` + "`" + `note_id` + "`" + ` also records the asset as an attachment of that note.
- Supported formats: png, jpg, jpeg, gif, webp, svg, pdf.

## Hierarchy

- Stacks live at the root. Notebooks live at the root ("unsorted") or inside a stack.
- Tags nest to any depth. ` + "`" + `find_or_create_tag` + "`" + ` matches names case-insensitively
  among siblings.
`

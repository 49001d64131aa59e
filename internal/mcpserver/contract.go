package mcpserver

// ArchiveFormatContract describes the tapestry archive and its manifest for
// LLM consumers that build or inspect archives.
const ArchiveFormatContract = `# Tapestry Archive Format

A tapestry archive is a zip file. One entry is reserved:

- ` + "`" + `root.json` + "`" + ` holds the manifest, UTF-8 JSON, at whichever schema version
  it was written with. Importers migrate it to the current version (6).

Every other entry is an asset payload. Its name matches exactly a
` + "`" + `file:/<name>` + "`" + ` reference inside the manifest. Exports name entries
` + "`" + `<prefix><id> (<filename>)<.ext>` + "`" + ` with the prefixes ` + "`" + `tapestry/` + "`" + `,
` + "`" + `items/` + "`" + `, ` + "`" + `thumbnails/` + "`" + ` and ` + "`" + `custom-thumbnails/` + "`" + `.

## Manifest (version 6)

` + "```" + `json
{
  "version": 6,
  "id": "t1",
  "title": "Trip",
  "theme": "light",
  "thumbnail": "file:/tapestry/t1 (cover).png",
  "items": [
    {"id": "a", "tapestryId": "t1", "type": "image", "source": "file:/items/a (cat).jpg",
     "position": {"x": 0, "y": 0}, "size": {"width": 200, "height": 100}, "dropShadow": true,
     "thumbnail": {"source": "file:/thumbnails/a (cat).png", "size": {"width": 20, "height": 10}}},
    {"id": "b", "tapestryId": "t1", "type": "actionButton", "title": "Go",
     "action": {"type": "internalLink", "itemId": "a"}}
  ],
  "rels": [
    {"id": "r", "weight": "light",
     "from": {"itemId": "a", "anchor": {"x": 0.5, "y": 0.5}, "arrowHead": "none"},
     "to": {"itemId": "b", "anchor": {"x": 0.5, "y": 0.5}, "arrowHead": "arrow"}}
  ],
  "groups": [{"id": "g", "name": "Animals"}],
  "presentationSteps": [{"id": "s1", "itemId": "a"}, {"id": "s2", "groupId": "g", "prevStepId": "s1"}]
}
` + "```" + `

## Rules

1. Item types: text, actionButton, audio, book, image, pdf, video, webpage.
   Media types (audio, book, image, pdf, video, webpage) require ` + "`" + `source` + "`" + `.
2. ` + "`" + `webpageType` + "`" + ` is generic or iaWayback; ` + "`" + `videoType` + "`" + ` is url or youtube.
3. Rel endpoints and internal links must name items of the same manifest.
   Anchors are normalized to 0..1. Weights are light, medium or heavy.
4. A presentation step references exactly one of ` + "`" + `itemId` + "`" + ` or ` + "`" + `groupId` + "`" + `;
   ` + "`" + `prevStepId` + "`" + `, when set, names another step.
5. Every ` + "`" + `file:/` + "`" + ` reference, thumbnails included, must name an entry.
   A missing entry fails the import with ` + "`" + `missing-entry` + "`" + `.
6. IDs are only meaningful inside the archive: an import assigns fresh IDs to
   every entity and remaps every reference.

## Older versions

Documents without ` + "`" + `version` + "`" + ` are version 0: items and rels have no IDs, rels
use ` + "`" + `itemIndex` + "`" + `, and the legacy item types ` + "`" + `wayback-page` + "`" + ` and
` + "`" + `youtube` + "`" + ` exist. Use the ` + "`" + `migrate_manifest` + "`" + ` tool to see the current
form of any older document.
`

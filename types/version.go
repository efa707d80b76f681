package types

// Version is the canonical modpatch version.
// It is recorded in every install metadata entry and install log record.
const Version = "0.3.0"

// MetadataFormatVersion is the version of the modpatch.json layout
// written into patched archives. Readers reject newer formats.
const MetadataFormatVersion = 1

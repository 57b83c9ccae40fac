package freight

// Config holds global configuration for the persistence engine
var Config config = config{
	defaultEmbedFormat: FormatCSV,
	codecCacheCapacity: 1024,
	strictCSVScan:      true,
}

type config struct {
	defaultEmbedFormat ArchiveFormat
	codecCacheCapacity int
	strictCSVScan      bool
}

// SetDefaultEmbedFormat configures the format used for manifest blobs when a
// save supplies no guidance
func (c *config) SetDefaultEmbedFormat(f ArchiveFormat) {
	c.defaultEmbedFormat = f
}

// SetCodecCacheCapacity bounds the number of codecs a registry can hold.
// Takes effect for registries created afterwards.
func (c *config) SetCodecCacheCapacity(n int) {
	c.codecCacheCapacity = n
}

// SetStrictCSVScan toggles the columnar CSV schema scan. Strict scanning
// unions subfields across all rows; fast scanning infers from row 0 only.
func (c *config) SetStrictCSVScan(strict bool) {
	c.strictCSVScan = strict
}

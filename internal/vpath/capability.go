package vpath

// SearchStrategy is how a path's content should be searched/read for
// scanning purposes.
type SearchStrategy string

const (
	StrategyStreaming SearchStrategy = "streaming"
	StrategyExtracted SearchStrategy = "extracted"
	StrategyBuffered  SearchStrategy = "buffered"
)

// Capabilities is the stable per-backend capability flag set. Every
// backend returns a fixed, scheme-wide Capabilities value (archive inherits
// only IsRemote from the storage its archive file sits on, see
// ArchiveCapabilities below).
type Capabilities struct {
	IsRemote                    bool
	SupportsWriteOperations     bool
	SupportsDirectoryRename     bool
	SupportsFileEditing         bool
	RequiresExtractionForReading bool
	SupportsStreamingRead       bool
	ShouldCacheForSearch        bool
	SearchStrategy              SearchStrategy
}

// Canonical capability tables, one per backend.
var (
	LocalCapabilities = Capabilities{
		IsRemote:                     false,
		SupportsWriteOperations:      true,
		SupportsDirectoryRename:      true,
		SupportsFileEditing:          true,
		RequiresExtractionForReading: false,
		SupportsStreamingRead:        true,
		ShouldCacheForSearch:         false,
		SearchStrategy:               StrategyStreaming,
	}

	SSHCapabilities = Capabilities{
		IsRemote:                     true,
		SupportsWriteOperations:      true,
		SupportsDirectoryRename:      true,
		SupportsFileEditing:          false,
		RequiresExtractionForReading: true,
		SupportsStreamingRead:        false,
		ShouldCacheForSearch:         true,
		SearchStrategy:               StrategyBuffered,
	}

	S3Capabilities = Capabilities{
		IsRemote:                     true,
		SupportsWriteOperations:      true,
		SupportsDirectoryRename:      false, // copy+delete only
		SupportsFileEditing:          false,
		RequiresExtractionForReading: true,
		SupportsStreamingRead:        false,
		ShouldCacheForSearch:         true,
		SearchStrategy:               StrategyBuffered,
	}
)

// ArchiveCapabilities returns the archive backend's capability set. It is
// always read-only, regardless of the capabilities of the underlying
// storage the archive file itself sits on; "IsRemote" inherits from that
// underlying storage since opening and downloading the archive has remote
// cost when it does.
func ArchiveCapabilities(underlyingIsRemote bool) Capabilities {
	return Capabilities{
		IsRemote:                     underlyingIsRemote,
		SupportsWriteOperations:      false,
		SupportsDirectoryRename:      false,
		SupportsFileEditing:          false,
		RequiresExtractionForReading: true,
		SupportsStreamingRead:        false,
		ShouldCacheForSearch:         true,
		SearchStrategy:               StrategyExtracted,
	}
}

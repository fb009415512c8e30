package ota

type (
	// Handle identifies an open partition write.
	Handle uint32

	// PartitionWriter receives a firmware image into the spare partition.
	//
	// Commit finalizes the image and switches the boot target to it; the handle
	// is released whatever the outcome, and on error the active boot target
	// must be left as it was. Abandon discards a partial image and must be safe
	// on any open handle.
	PartitionWriter interface {
		Begin() (Handle, error)
		Write(h Handle, p []byte) error
		Commit(h Handle) error
		Abandon(h Handle)
	}
)

package domain

import "time"

// BundleFile describes a stored bundle document.
type BundleFile struct {
	Name     string
	Size     int64
	Modified time.Time
}

package scp

import (
	"fmt"

	"github.com/radxtoolkit/radx/dicom"
	"github.com/radxtoolkit/radx/dicom/tag"
)

// Common DICOM tags used by SCP services
var (
	TagSOPClassUID        = tag.New(0x0008, 0x0016)
	TagSOPInstanceUID     = tag.New(0x0008, 0x0018)
	TagQueryRetrieveLevel = tag.New(0x0008, 0x0052)
)

// queryRetrieveLevel reads the (0008,0052) QueryRetrieveLevel attribute from
// a C-FIND/C-GET identifier, returning "" when the identifier is nil or the
// attribute is absent rather than failing the query outright.
func queryRetrieveLevel(identifier *dicom.DataSet) string {
	if identifier == nil {
		return ""
	}
	level, err := getStringFromDataSet(identifier, TagQueryRetrieveLevel)
	if err != nil {
		return ""
	}
	return level
}

// getStringFromDataSet extracts a string value from a DICOM dataset
func getStringFromDataSet(ds *dicom.DataSet, t tag.Tag) (string, error) {
	elem, err := ds.Get(t)
	if err != nil {
		return "", fmt.Errorf("get tag %s: %w", t, err)
	}

	value := elem.Value()
	if value == nil {
		return "", fmt.Errorf("tag %s has nil value", t)
	}

	return value.String(), nil
}

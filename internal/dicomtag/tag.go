// Package dicomtag defines the DICOM tags dicomizer reads and writes for the
// VL Whole Slide Microscopy Image Storage IOD, trimmed from the full DICOM
// dictionary to what this module's pipelines actually touch.
package dicomtag

// Tag represents a DICOM tag as (Group, Element).
type Tag struct {
	Group   uint16
	Element uint16
}

// New creates a Tag.
func New(group, element uint16) Tag { return Tag{Group: group, Element: element} }

// IsPrivate reports whether this is a private tag (odd group number).
func (t Tag) IsPrivate() bool { return t.Group%2 == 1 }

// File Meta Information (group 0002).
var (
	FileMetaInformationGroupLength = Tag{0x0002, 0x0000}
	MediaStorageSOPClassUID        = Tag{0x0002, 0x0002}
	MediaStorageSOPInstanceUID     = Tag{0x0002, 0x0003}
	TransferSyntaxUID              = Tag{0x0002, 0x0010}
	ImplementationClassUID         = Tag{0x0002, 0x0012}
	ImplementationVersionName      = Tag{0x0002, 0x0013}
)

// SOP Common / general identification.
var (
	SpecificCharacterSet = Tag{0x0008, 0x0005}
	ImageType            = Tag{0x0008, 0x0008}
	SOPClassUID           = Tag{0x0008, 0x0016}
	SOPInstanceUID        = Tag{0x0008, 0x0018}
	StudyDate             = Tag{0x0008, 0x0020}
	SeriesDate            = Tag{0x0008, 0x0021}
	ContentDate           = Tag{0x0008, 0x0023}
	StudyTime             = Tag{0x0008, 0x0030}
	SeriesTime            = Tag{0x0008, 0x0031}
	ContentTime           = Tag{0x0008, 0x0033}
	Modality              = Tag{0x0008, 0x0060}
	Manufacturer          = Tag{0x0008, 0x0070}
)

// Patient / study / series.
var (
	PatientName          = Tag{0x0010, 0x0010}
	PatientID            = Tag{0x0010, 0x0020}
	PatientBirthDate     = Tag{0x0010, 0x0030}
	PatientSex           = Tag{0x0010, 0x0040}
	StudyInstanceUID     = Tag{0x0020, 0x000D}
	SeriesInstanceUID    = Tag{0x0020, 0x000E}
	SeriesNumber         = Tag{0x0020, 0x0011}
	InstanceNumber       = Tag{0x0020, 0x0013}
	FrameOfReferenceUID  = Tag{0x0020, 0x0052}
	PositionReferenceInd = Tag{0x0020, 0x1040}
)

// General equipment.
var ()

// VL Whole Slide Microscopy Image Module.
var (
	ImagedVolumeWidth                 = Tag{0x0048, 0x0001}
	ImagedVolumeHeight                = Tag{0x0048, 0x0002}
	ImagedVolumeDepth                 = Tag{0x0048, 0x0003}
	TotalPixelMatrixColumns           = Tag{0x0048, 0x0006}
	TotalPixelMatrixRows              = Tag{0x0048, 0x0007}
	TotalPixelMatrixOriginSequence    = Tag{0x0048, 0x0008}
	SpecimenLabelInImage              = Tag{0x0048, 0x0010}
	FocusMethod                       = Tag{0x0048, 0x0011}
	ExtendedDepthOfField              = Tag{0x0048, 0x0012}
	ImageOrientationSlide             = Tag{0x0048, 0x0102}
	OpticalPathSequence               = Tag{0x0048, 0x0105}
	OpticalPathIdentifier             = Tag{0x0048, 0x0106}
	OpticalPathDescription            = Tag{0x0048, 0x0107}
	IlluminationColorCodeSequence     = Tag{0x0048, 0x0108}
	IlluminationTypeCodeSequence      = Tag{0x0048, 0x0110}
	RecommendedAbsentPixelCIELabVal   = Tag{0x0048, 0x0120}
	NumberOfOpticalPaths              = Tag{0x0048, 0x0302}
	TotalPixelMatrixFocalPlanes       = Tag{0x0048, 0x0303}
)

// Multi-frame / functional groups.
var (
	NumberOfFrames                 = Tag{0x0028, 0x0008}
	SharedFunctionalGroupsSequence = Tag{0x5200, 0x9229}
	PerFrameFunctionalGroupsSeq    = Tag{0x5200, 0x9230}
	PlanePositionSlideSequence     = Tag{0x0048, 0x021A}
	ColumnPositionInTotalImgMatrix = Tag{0x0048, 0x021E}
	RowPositionInTotalImgMatrix    = Tag{0x0048, 0x021F}
	XOffsetInSlideCoordSystem      = Tag{0x0040, 0x072A}
	YOffsetInSlideCoordSystem      = Tag{0x0040, 0x073A}
	ZOffsetInSlideCoordSystem      = Tag{0x0040, 0x074A}
	DimensionIndexSequence         = Tag{0x0020, 0x9222}
	DimensionOrganizationSequence  = Tag{0x0020, 0x9221}
	DimensionOrganizationUID       = Tag{0x0020, 0x9164}
	DimensionIndexValues           = Tag{0x0020, 0x9157}
	FrameContentSequence           = Tag{0x0020, 0x9111}
	OpticalPathIdentificationSeq   = Tag{0x0048, 0x0207}
)

// Image pixel module.
var (
	SamplesPerPixel          = Tag{0x0028, 0x0002}
	PhotometricInterpretation = Tag{0x0028, 0x0004}
	PlanarConfiguration       = Tag{0x0028, 0x0006}
	Rows                      = Tag{0x0028, 0x0010}
	Columns                   = Tag{0x0028, 0x0011}
	BitsAllocated             = Tag{0x0028, 0x0100}
	BitsStored                = Tag{0x0028, 0x0101}
	HighBit                   = Tag{0x0028, 0x0102}
	PixelRepresentation       = Tag{0x0028, 0x0103}
	PixelData                 = Tag{0x7FE0, 0x0010}
	LossyImageCompression     = Tag{0x0028, 0x2110}
	ICCProfile                = Tag{0x0028, 0x2000}
)

// Concatenation (Part 3, C.7.6.16.2.2.2).
var (
	SOPInstanceUIDOfConcatenationSrc = Tag{0x0020, 0x0242}
	ConcatenationUID                 = Tag{0x0020, 0x9161}
	InConcatenationNumber            = Tag{0x0020, 0x9162}
	InConcatenationTotalNumber       = Tag{0x0020, 0x9163}
	ConcatenationFrameOffsetNumber   = Tag{0x0020, 0x9228}
)

// Tile / basic offset table.
var (
	TotalPixelMatrixFocalPlaneCount = Tag{0x0048, 0x0301}
)

// General series / volumetric properties.
var (
	VolumetricProperties      = Tag{0x0008, 0x9206}
	PatientOrientation        = Tag{0x0020, 0x0020}
)

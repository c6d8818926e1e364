package object

import (
	"path"

	"voxelpipe/internal/nifti"
)

// DataType is the item type modules declare as input and output.
type DataType string

const (
	TypeFile  DataType = "file"
	TypeImage DataType = "image"
)

// AllTypes lists every data type.
var AllTypes = []DataType{TypeFile, TypeImage}

const (
	ClassFileDisk   = "FileObjectDisk"
	ClassFileTar    = "FileObjectTar"
	ClassFileMemory = "FileObjectMemory"
	ClassImage      = "ImageObject"
)

// Object is a lineage-tracked data item.
type Object interface {
	DataType() DataType
	Filename() string
	SubPath() string
	SourcePath() string
	Actions() []Action
	Source() *Descriptor
	Descriptor() Descriptor
	// Discard releases the payload. Metadata stays valid.
	Discard()
}

// Descriptor is the serialized form of an object, written to sidecar files.
type Descriptor struct {
	ObjectClass string      `json:"object_class"`
	DataType    DataType    `json:"data_type"`
	Actions     []Action    `json:"actions"`
	Source      *Descriptor `json:"source"`
	Filename    string      `json:"filename"`
	SubPath     string      `json:"sub_path"`
	SourcePath  string      `json:"source_path"`
	TarFilename string      `json:"tar_filename,omitempty"`
}

// SourceFilename returns the filename recorded by the first action, which
// identifies the source item the object descends from.
func (d Descriptor) SourceFilename() string {
	if len(d.Actions) == 0 {
		return ""
	}
	name, _ := d.Actions[0].String("filename")
	return name
}

// StoredFilename returns the data-relative filename recorded by the last
// action when it is a stored action.
func (d Descriptor) StoredFilename() string {
	if len(d.Actions) == 0 {
		return ""
	}
	last := d.Actions[len(d.Actions)-1]
	if last.Name != ActionStored {
		return ""
	}
	name, _ := last.String("filename")
	return name
}

// Names of the actions the graph and the sources record.
const (
	ActionLoaded = "loaded"
	ActionStored = "stored"
)

type meta struct {
	filename   string
	subPath    string
	sourcePath string
	actions    []Action
	source     *Descriptor
}

func newMeta(filename, subPath, sourcePath string, actions []Action) meta {
	return meta{
		filename:   filename,
		subPath:    cleanSubPath(subPath),
		sourcePath: cleanSubPath(sourcePath),
		actions:    append([]Action(nil), actions...),
	}
}

func (m *meta) Filename() string   { return m.filename }
func (m *meta) SubPath() string    { return m.subPath }
func (m *meta) SourcePath() string { return m.sourcePath }

func (m *meta) Actions() []Action { return append([]Action(nil), m.actions...) }

func (m *meta) Source() *Descriptor { return m.source }

func (m *meta) describe(class string, dataType DataType) Descriptor {
	return Descriptor{
		ObjectClass: class,
		DataType:    dataType,
		Actions:     m.Actions(),
		Source:      m.source,
		Filename:    m.filename,
		SubPath:     m.subPath,
		SourcePath:  m.sourcePath,
	}
}

// Change describes how Replace derives the new object.
type Change struct {
	filename   *string
	suffix     string
	addSubPath string
	content    []byte
	hasContent bool
	volume     *nifti.Volume
}

// ChangeOpt configures a Change.
type ChangeOpt func(*Change)

func WithFilename(name string) ChangeOpt { return func(c *Change) { c.filename = &name } }

func WithSuffix(suffix string) ChangeOpt { return func(c *Change) { c.suffix = suffix } }

// AddSubPath appends a directory to the current sub path.
func AddSubPath(dir string) ChangeOpt { return func(c *Change) { c.addSubPath = dir } }

// WithContent replaces a file payload; the result is a memory file.
func WithContent(content []byte) ChangeOpt {
	return func(c *Change) {
		c.content = content
		c.hasContent = true
	}
}

// WithVolume replaces an image payload.
func WithVolume(v *nifti.Volume) ChangeOpt { return func(c *Change) { c.volume = v } }

func (m *meta) derive(self Descriptor, action Action, opts []ChangeOpt) (meta, Change) {
	var change Change
	for _, opt := range opts {
		opt(&change)
	}
	filename := m.filename
	if change.filename != nil {
		filename = *change.filename
	}
	filename = AddToFilename(filename, "", change.suffix)

	subPath := m.subPath
	if change.addSubPath != "" {
		subPath = path.Join(subPath, change.addSubPath)
	}

	next := meta{
		filename:   filename,
		subPath:    cleanSubPath(subPath),
		sourcePath: m.sourcePath,
		actions:    appendAction(m.actions, action),
		source:     m.source,
	}
	if next.source == nil {
		frozen := self
		next.source = &frozen
	}
	return next, change
}

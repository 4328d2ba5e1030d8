package metastore

type WriteOp interface {
	OpPath() string
	Name() string
}

type CreateOp struct {
	Path string
	Data []byte
}

func (o *CreateOp) OpPath() string {
	return o.Path
}

func (o *CreateOp) Name() string {
	return "create"
}

// PutOp creates the node if missing, otherwise overwrites its data.
type PutOp struct {
	Path string
	Data []byte
}

func (o *PutOp) OpPath() string {
	return o.Path
}

func (o *PutOp) Name() string {
	return "put"
}

type DeleteOp struct {
	Path string
}

func (o *DeleteOp) OpPath() string {
	return o.Path
}

func (o *DeleteOp) Name() string {
	return "delete"
}

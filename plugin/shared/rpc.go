package shared

import (
	"net/rpc"
)

// RPCClient is an implementation of Trainer that talks over RPC.
type RPCClient struct{ client *rpc.Client }

func (m *RPCClient) LoadModel(name string) (ModelRef, error) {
	var resp ModelRef
	err := m.client.Call("Plugin.LoadModel", name, &resp)
	return resp, err
}

func (m *RPCClient) Train(job TrainJob) (TrainOutput, error) {
	var resp TrainOutput
	err := m.client.Call("Plugin.Train", job, &resp)
	return resp, err
}

type SaveArgs struct {
	Model ModelRef
	Dir   string
}

func (m *RPCClient) SaveModel(model ModelRef, dir string) error {
	var resp struct{}
	return m.client.Call("Plugin.SaveModel", SaveArgs{Model: model, Dir: dir}, &resp)
}

// Here is the RPC server that RPCClient talks to, conforming to
// the requirements of net/rpc
type RPCServer struct {
	// This is the real implementation
	Impl Trainer
}

func (m *RPCServer) LoadModel(name string, resp *ModelRef) error {
	v, err := m.Impl.LoadModel(name)
	*resp = v
	return err
}

func (m *RPCServer) Train(job TrainJob, resp *TrainOutput) error {
	v, err := m.Impl.Train(job)
	*resp = v
	return err
}

func (m *RPCServer) SaveModel(args SaveArgs, resp *struct{}) error {
	return m.Impl.SaveModel(args.Model, args.Dir)
}

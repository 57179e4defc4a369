package client

import (
	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a config, a transport and a serializer as parameters
// It returns a store.IStore and an error
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	adapter, err := newClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcStore{adapter}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// call invokes req and maps every failure to a *store.Error
func (i *rpcStore) call(req *common.Message) (*common.Message, error) {
	resp, err := i.invokeRPCRequest(req)
	if err != nil {
		return nil, toStoreError(err, req.MsgType.String()+" failed")
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Get(key string) (value []byte, loaded bool, err error) {
	resp, err := i.call(common.NewGetRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) MGet(keys []string) (values [][]byte, loaded []bool, err error) {
	resp, err := i.call(common.NewMGetRequest(keys))
	if err != nil {
		return nil, nil, err
	}
	return aligned(resp.Values, len(keys)), alignedFlags(resp.Found, len(keys)), nil
}

func (i *rpcStore) GetAll() (keys []string, values [][]byte, err error) {
	resp, err := i.call(common.NewGetAllRequest())
	if err != nil {
		return nil, nil, err
	}
	return resp.Keys, aligned(resp.Values, len(resp.Keys)), nil
}

func (i *rpcStore) Set(key string, value []byte) (prev []byte, loaded bool, err error) {
	resp, err := i.call(common.NewSetRequest(key, value))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) MSet(keys []string, values [][]byte) (prevs [][]byte, loaded []bool, err error) {
	if len(keys) != len(values) {
		return nil, nil, store.NewError(store.RetCInvalidOperation, "mset needs as many values as keys")
	}
	resp, err := i.call(common.NewMSetRequest(keys, values))
	if err != nil {
		return nil, nil, err
	}
	return aligned(resp.Values, len(keys)), alignedFlags(resp.Found, len(keys)), nil
}

func (i *rpcStore) Delete(key string) (prev []byte, loaded bool, err error) {
	resp, err := i.call(common.NewDelRequest(key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (i *rpcStore) MDelete(keys []string) (prevs [][]byte, loaded []bool, err error) {
	resp, err := i.call(common.NewMDelRequest(keys))
	if err != nil {
		return nil, nil, err
	}
	return aligned(resp.Values, len(keys)), alignedFlags(resp.Found, len(keys)), nil
}

func (i *rpcStore) Has(key string) (loaded bool, err error) {
	resp, err := i.call(common.NewExistRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) MHas(keys []string) (loaded []bool, err error) {
	resp, err := i.call(common.NewMExistRequest(keys))
	if err != nil {
		return nil, err
	}
	return alignedFlags(resp.Found, len(keys)), nil
}

// GetDBInfo is not available over rpc
func (i *rpcStore) GetDBInfo() (info db.DatabaseInfo, err error) {
	return db.DatabaseInfo{}, store.NewError(store.RetCUnsupportedOperation, "GetDBInfo is not available over rpc")
}

func (i *rpcStore) Close() error {
	return i.close()
}

// aligned pads values to n entries, empty slices may be dropped by the
// serializer
func aligned(values [][]byte, n int) [][]byte {
	if len(values) >= n {
		return values
	}
	out := make([][]byte, n)
	copy(out, values)
	return out
}

func alignedFlags(flags []bool, n int) []bool {
	if len(flags) >= n {
		return flags
	}
	out := make([]bool, n)
	copy(out, flags)
	return out
}

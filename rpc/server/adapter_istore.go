package server

import (
	"errors"

	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/rpc/common"
)

// NewIStoreServerAdapter creates the adapter translating storage requests
// into store.IStore calls
func NewIStoreServerAdapter(s store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: s}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, _ *StreamState) *common.Message {
	s := adapter.store

	switch req.MsgType {
	case common.MsgTGet:
		value, ok, err := s.Get(req.Key)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewGetResponse(value, ok)
	case common.MsgTGetAll:
		keys, values, err := s.GetAll()
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewGetAllResponse(keys, values)
	case common.MsgTMGet:
		values, found, err := s.MGet(req.Keys)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewMGetResponse(values, found)
	case common.MsgTSet:
		prev, ok, err := s.Set(req.Key, req.Value)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewSetResponse(prev, ok)
	case common.MsgTMSet:
		prevs, found, err := s.MSet(req.Keys, req.Values)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewMSetResponse(prevs, found)
	case common.MsgTDel:
		prev, ok, err := s.Delete(req.Key)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewDelResponse(prev, ok)
	case common.MsgTMDel:
		prevs, found, err := s.MDelete(req.Keys)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewMDelResponse(prevs, found)
	case common.MsgTExist:
		ok, err := s.Has(req.Key)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewExistResponse(ok)
	case common.MsgTMExist:
		found, err := s.MHas(req.Keys)
		if err != nil {
			return storeErrorResponse(err)
		}
		return common.NewMExistResponse(found)
	default:
		return common.NewErrorResponse(common.ErrCUnsupported, "unsupported message type "+req.MsgType.String())
	}
}

// storeErrorResponse maps a store error to the error response of its kind
func storeErrorResponse(err error) *common.Message {
	code := common.ErrCBackend
	switch {
	case errors.Is(err, store.ErrUnsupportedOperation):
		code = common.ErrCUnsupported
	case errors.Is(err, store.ErrInvalidOperation):
		code = common.ErrCMalformed
	}
	Logger.Debugf("store error (%s): %v", code, err)
	return common.NewErrorResponse(code, err.Error())
}

package utils

import (
	"encoding/json"
	"reflect"

	"github.com/kuaishou/open_routing_keeper/routing_keeper/logging"
	"github.com/pkg/errors"
)

func MarshalJsonOrDie(ptr interface{}) []byte {
	data, err := json.Marshal(ptr)
	if err != nil {
		logging.Fatal("marshal %v to json failed: %v", ptr, err.Error())
	}
	return data
}

func UnmarshalJsonOrDie(data []byte, ptr interface{}) {
	err := json.Unmarshal(data, ptr)
	if err != nil {
		logging.Fatal("unmarshal json %v to %s failed", string(data), reflect.TypeOf(ptr).String())
	}
}

// UnmarshalJson is the recoverable variant, for data written by other processes.
func UnmarshalJson(data []byte, ptr interface{}) error {
	if len(data) == 0 {
		return errors.Errorf("empty json for %s", reflect.TypeOf(ptr).String())
	}
	if err := json.Unmarshal(data, ptr); err != nil {
		return errors.Wrapf(err, "unmarshal %q to %s", string(data), reflect.TypeOf(ptr).String())
	}
	return nil
}

// Code generated-by-hand in the style of mockgen; mockgen itself cannot
// run in this environment, so this file hand-implements the same
// gomock.Matcher-based calling convention for Device.
package blockdev

import (
	"reflect"

	"go.uber.org/mock/gomock"
)

// MockDevice is a gomock-style mock of Device, used by internal/swap's
// fault-injection tests (spec.md §7: "I/O errors on swap — treated as
// fatal").
type MockDevice struct {
	ctrl     *gomock.Controller
	recorder *MockDeviceRecorder
}

// MockDeviceRecorder exposes EXPECT()-style call recording.
type MockDeviceRecorder struct {
	mock *MockDevice
}

// NewMockDevice constructs a MockDevice bound to ctrl.
func NewMockDevice(ctrl *gomock.Controller) *MockDevice {
	m := &MockDevice{ctrl: ctrl}
	m.recorder = &MockDeviceRecorder{mock: m}
	return m
}

// EXPECT returns an object that allows recording expected calls.
func (m *MockDevice) EXPECT() *MockDeviceRecorder { return m.recorder }

func (m *MockDevice) ReadAt(dst []byte, offset int64) error {
	ret := m.ctrl.Call(m, "ReadAt", dst, offset)
	err, _ := ret[0].(error)
	return err
}

func (r *MockDeviceRecorder) ReadAt(dst, offset interface{}) *gomock.Call {
	return r.mock.ctrl.RecordCallWithMethodType(r.mock, "ReadAt",
		reflect.TypeOf((*MockDevice)(nil).ReadAt), dst, offset)
}

func (m *MockDevice) WriteAt(src []byte, offset int64) error {
	ret := m.ctrl.Call(m, "WriteAt", src, offset)
	err, _ := ret[0].(error)
	return err
}

func (r *MockDeviceRecorder) WriteAt(src, offset interface{}) *gomock.Call {
	return r.mock.ctrl.RecordCallWithMethodType(r.mock, "WriteAt",
		reflect.TypeOf((*MockDevice)(nil).WriteAt), src, offset)
}

func (m *MockDevice) Sync() error {
	ret := m.ctrl.Call(m, "Sync")
	err, _ := ret[0].(error)
	return err
}

func (r *MockDeviceRecorder) Sync() *gomock.Call {
	return r.mock.ctrl.RecordCallWithMethodType(r.mock, "Sync",
		reflect.TypeOf((*MockDevice)(nil).Sync))
}

func (m *MockDevice) Close() error {
	ret := m.ctrl.Call(m, "Close")
	err, _ := ret[0].(error)
	return err
}

func (r *MockDeviceRecorder) Close() *gomock.Call {
	return r.mock.ctrl.RecordCallWithMethodType(r.mock, "Close",
		reflect.TypeOf((*MockDevice)(nil).Close))
}

var _ Device = (*MockDevice)(nil)

package server

import (
	"context"
	"fmt"
	"reflect"

	"ocpp-rpc/codec"
	"ocpp-rpc/message"
	"ocpp-rpc/middleware"
)

type methodType struct {
	method   reflect.Method
	ArgType  reflect.Type
	ConfType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService 创建 service 并扫描所有合法方法
func NewService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	srv := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.RegisterMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("server: %s has no action methods", srv.name)
	}
	return srv, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// RegisterMethods 扫描 struct 的导出方法，过滤出符合 action 签名的:
//
//	func (r *T) Action(ctx context.Context, req *Req) (*Conf, error)
func (s *service) RegisterMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 3 || mt.NumOut() != 2 || mt.Out(1) != errorType ||
			mt.In(1) != contextType || mt.In(2).Kind() != reflect.Ptr || mt.Out(0).Kind() != reflect.Ptr {
			continue
		}
		s.method[method.Name] = &methodType{
			method:   method,
			ArgType:  mt.In(2).Elem(),
			ConfType: mt.Out(0).Elem(),
		}
	}
}

// handler adapts one method to a HandlerFunc. The request payload is already
// catalog-validated, so decoding only binds it to the method's request type.
func (s *service) handler(mType *methodType, cdc codec.Codec) middleware.HandlerFunc {
	return func(ctx context.Context, call *message.Call) (any, error) {
		argv := reflect.New(mType.ArgType)
		if err := cdc.Decode(call.Payload, argv.Interface()); err != nil {
			return nil, NewError(KindFormat, err.Error(), nil)
		}
		return s.Call(ctx, mType, argv)
	}
}

// Call 通过反射调用方法
func (s *service) Call(ctx context.Context, mType *methodType, argv reflect.Value) (any, error) {
	results := mType.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv})
	if errv := results[1]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	if results[0].IsNil() {
		return struct{}{}, nil
	}
	return results[0].Interface(), nil
}

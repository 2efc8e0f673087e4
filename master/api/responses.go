package api

import (
	"net/http"

	"github.com/sorrycc/elasticdl/master"
	"github.com/sorrycc/elasticdl/pkg/api"
	"github.com/sorrycc/elasticdl/pkg/model"
)

var (
	_ api.Response = (*taskResponse)(nil)
	_ api.Response = (*modelResponse)(nil)
	_ api.Response = (*ackResponse)(nil)
	_ api.Response = (*recoverResponse)(nil)
	_ api.Response = (*emptyResponse)(nil)
)

type taskResponse struct {
	master.TaskAssignment
}

func (t taskResponse) Code() int {
	return http.StatusOK
}

func (t taskResponse) Headers() map[string]string {
	return map[string]string{}
}

func (t taskResponse) Empty() bool {
	return false
}

type modelResponse struct {
	model.Snapshot
}

func (m modelResponse) Code() int {
	return http.StatusOK
}

func (m modelResponse) Headers() map[string]string {
	return map[string]string{}
}

func (m modelResponse) Empty() bool {
	return false
}

type ackResponse struct {
	master.GradientAck
}

func (a ackResponse) Code() int {
	return http.StatusOK
}

func (a ackResponse) Headers() map[string]string {
	return map[string]string{}
}

func (a ackResponse) Empty() bool {
	return false
}

type recoverResponse struct {
	Recovered int `json:"recovered"`
}

func (r recoverResponse) Code() int {
	return http.StatusOK
}

func (r recoverResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r recoverResponse) Empty() bool {
	return false
}

type emptyResponse struct{}

func (e emptyResponse) Code() int {
	return http.StatusNoContent
}

func (e emptyResponse) Headers() map[string]string {
	return map[string]string{}
}

func (e emptyResponse) Empty() bool {
	return true
}

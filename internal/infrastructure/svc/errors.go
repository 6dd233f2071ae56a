package svc

import "errors"

// ErrNoAgents 错误：没有配置任何 agent
var ErrNoAgents = errors.New("no agents configured and none listed by the agent feed")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")

/*
Copyright 2019 The Ceph-CSI Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log provides the leveled, context-aware logging used across the
// child process. It is a thin wrapper over klog/v2, kept deliberately small:
// the request-local error kind (bad auth, throttling, bad route) never logs
// at all, so most call sites only need Debug/Default/Error/Warning.
package log

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Verbosity levels used with klog.V().
const (
	Default klog.Level = iota + 1
	Debug
	Trace
)

type contextKey string

// CtxKey tags a context with a short id (e.g. a worker name) for log prefixing.
var CtxKey = contextKey("ID")

// WithID returns a context that log.Log will prefix with id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxKey, id)
}

// Log prefixes format with the context's id, if any.
func Log(ctx context.Context, format string) string {
	id := ctx.Value(CtxKey)
	if id == nil {
		return format
	}

	return fmt.Sprintf("ID: %v ", id) + format
}

// FatalLogMsg logs at fatal level and terminates the process (klog.Fatal semantics).
func FatalLogMsg(message string, args ...interface{}) {
	klog.FatalDepth(1, fmt.Sprintf(message, args...))
}

// ErrorLogMsg logs an error without request context.
func ErrorLogMsg(message string, args ...interface{}) {
	klog.ErrorDepth(1, fmt.Sprintf(message, args...))
}

// ErrorLog logs an error with request context.
func ErrorLog(ctx context.Context, message string, args ...interface{}) {
	klog.ErrorDepth(1, fmt.Sprintf(Log(ctx, message), args...))
}

// WarningLogMsg logs a warning without request context.
func WarningLogMsg(message string, args ...interface{}) {
	klog.WarningDepth(1, fmt.Sprintf(message, args...))
}

// WarningLog logs a warning with request context.
func WarningLog(ctx context.Context, message string, args ...interface{}) {
	klog.WarningDepth(1, fmt.Sprintf(Log(ctx, message), args...))
}

// DefaultLog logs at klog.V(Default), the level the daemon runs at in production.
func DefaultLog(message string, args ...interface{}) {
	if klog.V(Default).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(message, args...))
	}
}

// DebugLog logs at klog.V(Debug), enabled with -v=2 and above.
func DebugLog(message string, args ...interface{}) {
	if klog.V(Debug).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(message, args...))
	}
}

// TraceLog logs at klog.V(Trace), the noisiest tier, one entry per frame/request.
func TraceLog(ctx context.Context, message string, args ...interface{}) {
	if klog.V(Trace).Enabled() {
		klog.InfoDepth(1, fmt.Sprintf(Log(ctx, message), args...))
	}
}

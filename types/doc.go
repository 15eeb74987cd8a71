// Copyright 2025-2026 WebMem Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package types provides unified type definitions for the WebMem engine.
//
// It contains the page-memory data model (PageSnapshot, Chunk and the
// derived retrieval views PageResult and SelectorStat) together with the
// structured error taxonomy shared by all engine packages.
package types

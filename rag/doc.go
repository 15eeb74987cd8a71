// Copyright 2025-2026 WebMem Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现 WebMem 的检索增强页面记忆引擎。

该包覆盖引擎的完整读写路径：页面快照的语义分块、嵌入、存储，
相似页面检索，选择器成功率排序，以及更新置信度的反馈回路。
引擎只消费浏览器侧协作者提供的页面结构数据和动作结果，
从不驱动浏览器或调用规划模型。

# 核心接口/类型

  - Store — 存储统一接口（InsertSnapshot / InsertChunks / Query /
    UpdateAnnotation / Purge / Stats），按生命周期策略参数化：
    MemoryStore（会话级）、SQLiteStore（持久化）、RedisStore（外部会话）
  - Clearable — 可选的全量清空接口，按类型断言探测
  - SnapshotChunker — 快照分块器，按结构类别产出有界数量的 chunk
  - Tokenizer — 分块专用 token 计数接口（估算器 / tiktoken 两种实现）
  - Retriever — 查询嵌入 + 相似度检索 + 按快照聚合
  - SelectorRanker — 按选择器聚合成功/尝试计数的读时排序器
  - FeedbackRecorder — 将动作结果落回存储的薄编排层
  - Engine — 聚合以上组件的门面，NewEngineFromConfig 一键装配

# 主要能力

  - 语义分块：每个快照按结构类别（header/interactive/forms/popups/
    content/history）产出有界数量的 chunk，原子组永不拆分
  - 相似检索：余弦相似度 + 时间新旧决胜，过滤先于排序
  - 选择器排序：SuccessCount 优先、SuccessRate 决胜的双键排序
  - 反馈回路：逐事件追加的结果日志，软 not_found 状态，不重嵌入
  - 降级语义：存储/嵌入故障时读路径返回空结果，反馈路径返回软状态，
    调用方的自动化循环永不因检索失败而崩溃
*/
package rag

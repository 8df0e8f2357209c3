// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 claude 适配 Anthropic Messages API（/v1/messages）。负责把与服务商无关的
types.Conversation 规范化为上游请求，带重试地发起调用，并把 SSE 增量事件
重组为有序的事件序列。

# 核心结构体

  - Normalizer: 校验对话并构造 MessagesRequest（system 提取、模型前缀剥离、
    图片校验与 SSRF 检查），不修改输入，结果确定
  - Executor: 发起 POST /v1/messages，单次尝试超时，按 providers.ClassifyStatus
    分类失败，由 retry.Retryer 驱动退避重试
  - Decoder: 拉取式流解码器，状态 AwaitingStart → Streaming → Completed | Aborted
  - Completion: 聚合后的非流式结果

# 协议差异

  - 认证使用 x-api-key 请求头（非 Bearer Token）
  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - 消息 content 为数组形式，图片来源为 base64 或 url
  - 流式 SSE 事件结构独立（message_start / content_block_delta 等）

# 支持能力

  - Chat Completion（同步与流式）
  - 模型列表查询（/v1/models，分页）
*/
package claude

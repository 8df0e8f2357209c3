// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 claudegate 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、api、cmd 等上层模块
提供统一的对话模型与错误契约，以避免循环依赖。

# 核心类型

  - Conversation / Turn / ContentBlock / ImageSource: 宿主提交的对话
  - Error / Kind / Reason: 内部结构化错误，携带上游状态码、重试标记与原因
  - SafeError           : 唯一允许离开管线的错误形态，只含固定文案

# 主要能力

  - 错误工具链：AsError / KindOf / IsKind / IsRetryable / RetryAfterOf
  - 重试耗尽追溯：Error.LastFailure 返回最后一次失败
*/
package types

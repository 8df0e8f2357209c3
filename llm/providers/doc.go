// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供上游服务商的公共基础层：配置、状态码分类与传输错误映射。
具体的 Claude Messages API 适配位于子包 claude。

# 核心类型

  - BaseProviderConfig: 共享配置（APIKey、BaseURL、Model、Timeout）
  - ClaudeConfig: Claude 专属配置（API 版本、密钥前缀、max_tokens、
    最大轮数、图片 URL 模式、响应体上限）
  - Classification: 状态码分类表中的一行

# 核心函数

  - ClassifyStatus: 唯一的状态码到 types.Kind 的映射表
  - MapHTTPError: 构造带重试标记与 Retry-After 的 types.Error
  - ClassifyTransportError: 区分调用方取消、单次尝试超时与连接失败
  - ReadErrorMessage: 有界读取上游错误体，仅用于日志
*/
package providers

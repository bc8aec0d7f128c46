package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于 CLI 各入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ArtifactFields 描述一次 artifact 相关操作：动作、目录与规格中的 type。
func ArtifactFields(action, path, artifactType string) logrus.Fields {
	return logrus.Fields{
		"action":        action,
		"path":          path,
		"artifact_type": artifactType,
	}
}

// RequestFields 提供读服务请求日志的公共字段。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
